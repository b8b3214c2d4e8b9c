package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audioseek/audioseek/pkg/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP search API",
	Long: `Run the HTTP search API.

Endpoints:
  POST /api/search            similarity search for an uploaded sample
  GET  /api/metadata?query=   metadata search by file name substring
  GET  /api/stream/{name}     stream a staged query file
  GET  /api/db-info           vector collection state`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, files, err := buildOrchestrator()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Clear anything left over from a previous run, then keep the
		// directory tidy in the background.
		files.EvictExpired(ctx, cfg.TTL())

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			files.Run(ctx, cfg.TTL(), cfg.TTL())
		}()

		srv := httpapi.NewHTTPServer(cfg.Listen, httpapi.NewServer(orch).Handler())
		errCh := make(chan error, 1)
		go func() {
			slog.Info("listening", "addr", cfg.Listen, "qdrant", cfg.QdrantURL, "collection", cfg.Collection)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
		}

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
		wg.Wait()

		// No streams remain after Shutdown; purge staged query files
		// regardless of age.
		files.EvictExpired(context.Background(), 0)
		return nil
	},
}
