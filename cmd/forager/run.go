package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator loop",
	Long: `Start the coordinating loop: recover stale tasks, load the plugin
registry, then continuously sweep source health and work the task queue
until interrupted. With --once, perform a single pass and exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		orch, err := newOrchestrator()
		if err != nil {
			return err
		}
		if err := orch.Startup(ctx); err != nil {
			return err
		}

		if runOnce {
			orch.RunOnce(ctx)
			return nil
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() {
			errCh <- orch.Run(ctx)
		}()

		fmt.Println("Orchestrator running. Press Ctrl+C to stop.")

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			orch.Stop()
			return nil
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "perform a single pass and exit")
	rootCmd.AddCommand(runCmd)
}
