package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"forager/internal/orchestrator"
	"forager/internal/types"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <source>",
	Short: "Queue a refresh for an existing source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := store.EnqueueTask(context.Background(), types.TaskRefresh, args[0], orchestrator.PriorityRefresh, cfg.DefaultMaxRetries)
		if err != nil {
			return err
		}
		fmt.Printf("Queued refresh task %d for %s\n", task.ID, task.Target)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
