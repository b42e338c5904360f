package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"forager/internal/artifact"
	"forager/internal/health"
	"forager/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth, source health, and recent fixes",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Forager Status ==="))

		pending, err := store.PendingCount(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to count tasks: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s %d\n\n", yellow("Pending tasks:"), pending)

		artifacts, err := artifact.New(cfg.RegistryDir, cfg.StagingDir)
		if err == nil {
			if names, err := artifacts.Names(); err == nil {
				fmt.Printf("%s %d deployed\n\n", yellow("Plugins:"), len(names))
			}
		}

		tracker := health.New(store, cfg)
		sources, err := tracker.AllSources(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list sources: %v\n", err)
			os.Exit(1)
		}

		counts, err := tracker.StateCounts(ctx)
		if err == nil && len(counts) > 0 {
			fmt.Printf("%s %s active, %s degraded, %s quarantined, %s dead\n\n",
				yellow("Source states:"),
				green(counts[types.SourceActive]),
				yellow(counts[types.SourceDegraded]),
				red(counts[types.SourceQuarantined]),
				gray(counts[types.SourceDead]))
		}

		fmt.Printf("%s\n", yellow("Sources:"))
		if len(sources) == 0 {
			fmt.Printf("  %s\n", gray("No sources tracked"))
		}
		for _, h := range sources {
			stateColor := gray
			icon := "○"
			switch h.State {
			case types.SourceActive:
				stateColor, icon = green, "●"
			case types.SourceDegraded:
				stateColor, icon = yellow, "◐"
			case types.SourceQuarantined:
				stateColor, icon = red, "◌"
			case types.SourceDead:
				stateColor, icon = gray, "✗"
			}

			fmt.Printf("  %s %s %s\n", stateColor(icon), h.SourceName, stateColor(string(h.State)))
			fmt.Printf("    Success/Failure: %d/%d (streak %d)\n", h.SuccessCount, h.FailureCount, h.ConsecutiveFailures)
			if h.LastSuccessAt != nil {
				fmt.Printf("    Last success: %s\n", h.LastSuccessAt.Format("2006-01-02 15:04:05"))
			}
			if h.State == types.SourceQuarantined && h.QuarantineUntil != nil {
				fmt.Printf("    Quarantined until: %s (%v left)\n",
					h.QuarantineUntil.Format("2006-01-02 15:04:05"),
					time.Until(*h.QuarantineUntil).Round(time.Minute))
			}
			if h.FixAttemptsToday > 0 {
				fmt.Printf("    Fix budget: %d/%d used today\n", h.FixAttemptsToday, cfg.MaxFixAttemptsPerDay)
			}
			if h.LastError != "" {
				fmt.Printf("    Last error: %s\n", gray(truncateLine(h.LastError, 80)))
			}
		}
		fmt.Println()

		fixes, err := store.RecentFixRecords(ctx, "", 5)
		if err == nil && len(fixes) > 0 {
			fmt.Printf("%s\n", yellow("Recent fixes:"))
			for _, f := range fixes {
				outcome := red("failed")
				if f.Success {
					outcome = green("promoted")
				}
				fmt.Printf("  %s %s (%s, %s) %s\n",
					f.CreatedAt.Format("01-02 15:04"), f.SourceName, f.ErrorType, f.Stage, outcome)
			}
			fmt.Println()
		}
	},
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
