package main

import (
	"context"
	"encoding/json"

	"github.com/smallbiznis/notifier/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every enabled campaign once and print the summary",
	Long: `Run performs a single batch and exits. It is meant for cron-style
deployments. A run that finds the lock held by another instance exits
cleanly with "locked": true in the summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sched *scheduler.Scheduler
		app := fx.New(
			schedulerModules(),
			fx.Populate(&sched),
		)
		if err := app.Err(); err != nil {
			return err
		}
		return runApp(cmd.Context(), app, func(ctx context.Context) error {
			summary, runErr := sched.RunOnce(ctx)
			if summary.StartedAt.IsZero() {
				return runErr
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			return runErr
		})
	},
}
