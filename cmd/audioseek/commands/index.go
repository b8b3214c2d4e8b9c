package commands

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	indexDir      string
	indexRecreate bool
)

var titleStyle = lipgloss.NewStyle().Bold(true)
var faintStyle = lipgloss.NewStyle().Faint(true)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Extract fingerprints from a directory and ingest them",
	Long: `Extract fingerprints from every supported audio file (.wav, .mp3,
.flac, .ogg) under a directory and ingest them into the collection.

By default the existing collection is kept and files whose name is already
indexed are skipped. With --recreate the collection is dropped and rebuilt
from scratch.

Examples:
  audioseek index --dir /data/samples
  audioseek index --dir /data/samples --recreate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if indexDir == "" {
			return fmt.Errorf("--dir is required")
		}

		orch, _, err := buildOrchestrator()
		if err != nil {
			return err
		}

		start := time.Now()
		stats, err := orch.IndexDirectory(cmd.Context(), indexDir, indexRecreate)
		if err != nil {
			return err
		}

		info, err := orch.Info(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("Indexing complete"))
		fmt.Printf("  extracted:  %d\n", stats.Extracted)
		fmt.Printf("  inserted:   %d\n", stats.Inserted)
		fmt.Printf("  collection: %s (%d records)\n", info.Name, info.PointCount)
		fmt.Println(faintStyle.Render(fmt.Sprintf("  took %s", time.Since(start).Round(time.Millisecond))))
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexDir, "dir", "", "directory containing audio files")
	indexCmd.Flags().BoolVar(&indexRecreate, "recreate", false, "drop and recreate the collection before ingesting")
}
