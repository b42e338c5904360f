package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var fixNow bool

var fixCmd = &cobra.Command{
	Use:   "fix <source>",
	Short: "Repair a broken source",
	Long: `Queue a repair task for the source. With --now, run the healing
pipeline immediately in the foreground instead of queueing. The daily
fix budget applies either way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		source := args[0]

		orch, err := newOrchestrator()
		if err != nil {
			return err
		}

		if !fixNow {
			task, err := orch.EnqueueRepair(ctx, source)
			if err != nil {
				return err
			}
			fmt.Printf("Queued repair task %d for %s\n", task.ID, source)
			return nil
		}

		errText := ""
		if h, err := orch.Health().Get(ctx, source); err == nil && h != nil {
			errText = h.LastError
		}
		if err := orch.Doctor().Heal(ctx, source, errText); err != nil {
			return err
		}
		fmt.Printf("Fix promoted for %s\n", source)
		return nil
	},
}

func init() {
	fixCmd.Flags().BoolVar(&fixNow, "now", false, "run the healing pipeline immediately")
	rootCmd.AddCommand(fixCmd)
}
