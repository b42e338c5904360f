// Command forager is the CLI for the autonomy kernel: it runs the
// orchestrator loop and provides operator commands for the task queue,
// source health, and the healing pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forager/internal/ai"
	"forager/internal/config"
	"forager/internal/orchestrator"
	"forager/internal/storage"
	"forager/internal/storage/sqlite"
)

var (
	cfgPath string
	dbPath  string

	cfg   *config.Config
	store storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "forager",
	Short: "Self-healing data source orchestrator",
	Long: `Forager maintains a fleet of generated data-source plugins: it
acquires new sources from URLs, refreshes existing ones, tracks their
health, and automatically repairs the ones that break.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		store, err = sqlite.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

// newOrchestrator builds the full stack, including the oracle. Commands
// that never call the oracle should not use this; it requires an API key.
func newOrchestrator() (*orchestrator.Orchestrator, error) {
	oracle, err := ai.NewOracle(&ai.Config{
		Model: cfg.Model,
		Retry: ai.RetryConfig{Timeout: cfg.OracleTimeout},
	})
	if err != nil {
		return nil, err
	}
	return orchestrator.New(cfg, store, oracle)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "forager.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override database path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
