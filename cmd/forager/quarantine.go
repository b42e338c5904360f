package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"forager/internal/health"
)

var quarantineFor time.Duration

var quarantineCmd = &cobra.Command{
	Use:   "quarantine <source>",
	Short: "Manually quarantine a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := health.New(store, cfg)
		if err := tracker.Quarantine(context.Background(), args[0], quarantineFor); err != nil {
			return err
		}
		fmt.Printf("Quarantined %s for %v\n", args[0], quarantineFor)
		return nil
	},
}

var deadCmd = &cobra.Command{
	Use:   "dead <source>",
	Short: "Permanently retire a source (no automated repair will run)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := health.New(store, cfg)
		if err := tracker.MarkDead(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Marked %s as dead\n", args[0])
		return nil
	},
}

func init() {
	quarantineCmd.Flags().DurationVar(&quarantineFor, "for", 24*time.Hour, "quarantine duration")
	rootCmd.AddCommand(quarantineCmd)
	rootCmd.AddCommand(deadCmd)
}
