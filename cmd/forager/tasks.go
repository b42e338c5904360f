package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"forager/internal/types"
)

var tasksLimit int

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List recent tasks",
	Run: func(cmd *cobra.Command, args []string) {
		tasks, err := store.RecentTasks(context.Background(), tasksLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list tasks: %v\n", err)
			os.Exit(1)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, t := range tasks {
			stateColor := gray
			switch t.State {
			case types.TaskCompleted:
				stateColor = green
			case types.TaskFailed:
				stateColor = red
			case types.TaskInProgress:
				stateColor = yellow
			}
			fmt.Printf("%4d  %-8s %-11s p%-2d  %s  %s\n",
				t.ID, t.Type, stateColor(string(t.State)), t.Priority,
				t.CreatedAt.Format("01-02 15:04"), t.Target)
			if t.ErrorMessage != "" {
				fmt.Printf("      %s\n", gray(truncateLine(t.ErrorMessage, 100)))
			}
		}
	},
}

func init() {
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 20, "maximum tasks to show")
	rootCmd.AddCommand(tasksCmd)
}
