package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show vector collection state",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, _, err := buildOrchestrator()
		if err != nil {
			return err
		}

		info, err := orch.Info(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("Collection"))
		fmt.Printf("  name:    %s\n", info.Name)
		fmt.Printf("  records: %d\n", info.PointCount)
		fmt.Printf("  status:  %s\n", info.Status)
		return nil
	},
}
