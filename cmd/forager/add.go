package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"forager/internal/orchestrator"
	"forager/internal/types"
)

var addPriority int

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Queue acquisition of a new source from a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := store.EnqueueTask(context.Background(), types.TaskAcquire, args[0], addPriority, cfg.DefaultMaxRetries)
		if err != nil {
			return err
		}
		fmt.Printf("Queued acquisition task %d for %s\n", task.ID, task.Target)
		return nil
	},
}

func init() {
	addCmd.Flags().IntVar(&addPriority, "priority", orchestrator.PriorityAcquire, "task priority (higher runs sooner)")
	rootCmd.AddCommand(addCmd)
}
