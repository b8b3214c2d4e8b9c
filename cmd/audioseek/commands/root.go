// Package commands implements the audioseek CLI commands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/audioseek/audioseek/pkg/audio/feature"
	"github.com/audioseek/audioseek/pkg/index"
	"github.com/audioseek/audioseek/pkg/qdrant"
	"github.com/audioseek/audioseek/pkg/search"
	"github.com/audioseek/audioseek/pkg/tempstore"
)

// Config is the service configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// QdrantURL is the Qdrant REST base URL.
	QdrantURL string `yaml:"qdrant_url"`

	// Collection is the fingerprint collection name.
	Collection string `yaml:"collection"`

	// TempDir is the staging directory for uploaded query files.
	TempDir string `yaml:"temp_dir"`

	// TempTTLMinutes is how long an unleased query file survives, in
	// minutes. The eviction interval equals the TTL.
	TempTTLMinutes int `yaml:"temp_ttl_minutes"`

	// TopK is the number of similar records returned per query.
	TopK int `yaml:"top_k"`
}

// TTL returns the temp file time-to-live.
func (c Config) TTL() time.Duration {
	return time.Duration(c.TempTTLMinutes) * time.Minute
}

// validate rejects configurations the service cannot run with. The TTL
// doubles as the eviction ticker interval, which panics on non-positive
// values.
func (c Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.TempTTLMinutes <= 0 {
		return fmt.Errorf("config: temp_ttl_minutes must be positive, got %d", c.TempTTLMinutes)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("config: top_k must be positive, got %d", c.TopK)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Listen:         ":8000",
		QdrantURL:      "http://localhost:6333",
		Collection:     "audio_vectors",
		TempDir:        "data/temp",
		TempTTLMinutes: 30,
		TopK:           search.DefaultTopK,
	}
}

var (
	cfgFile string
	cfg     = defaultConfig()
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "audioseek",
	Short: "Audio similarity search service",
	Long: `audioseek indexes acoustic fingerprints of audio files in Qdrant and
finds the most similar files for an uploaded sample.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if cfgFile != "" {
			data, err := os.ReadFile(cfgFile)
			if err != nil {
				return fmt.Errorf("read config %s: %w", cfgFile, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse config %s: %w", cfgFile, err)
			}
			applyFlagOverrides(cmd)
		}
		return cfg.validate()
	},
}

// applyFlagOverrides re-applies explicitly set flags on top of file config.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("qdrant") {
		cfg.QdrantURL, _ = flags.GetString("qdrant")
	}
	if flags.Changed("collection") {
		cfg.Collection, _ = flags.GetString("collection")
	}
	if flags.Changed("temp-dir") {
		cfg.TempDir, _ = flags.GetString("temp-dir")
	}
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to YAML config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&cfg.QdrantURL, "qdrant", cfg.QdrantURL, "Qdrant REST base URL")
	flags.StringVar(&cfg.Collection, "collection", cfg.Collection, "vector collection name")
	flags.StringVar(&cfg.TempDir, "temp-dir", cfg.TempDir, "temp file directory")

	rootCmd.AddCommand(serveCmd, indexCmd, infoCmd)
}

// buildOrchestrator wires the components from the current config.
func buildOrchestrator() (*search.Orchestrator, *tempstore.Store, error) {
	files, err := tempstore.New(cfg.TempDir)
	if err != nil {
		return nil, nil, err
	}
	client := qdrant.New(qdrant.Config{BaseURL: cfg.QdrantURL})
	catalog := index.New(client, cfg.Collection)
	extractor := feature.New(feature.DefaultConfig())
	return search.New(extractor, catalog, files, cfg.TopK), files, nil
}
