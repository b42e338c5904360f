package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forager/internal/artifact"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <source>",
	Short: "Restore the previous plugin artifact for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]

		artifacts, err := artifact.New(cfg.RegistryDir, cfg.StagingDir)
		if err != nil {
			return err
		}
		if !artifacts.BackupExists(source) {
			return fmt.Errorf("no backup available for %s", source)
		}
		if err := artifacts.RestoreBackup(source); err != nil {
			return err
		}
		fmt.Printf("Restored previous artifact for %s\n", source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}
