package main

import (
	"context"

	"github.com/smallbiznis/notifier/internal/migration"
	"github.com/smallbiznis/notifier/internal/scheduler"
	"github.com/smallbiznis/notifier/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler loop and the ops HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			schedulerModules(),
			migration.Module,
			scheduler.RunnerModule,
			server.Module,
		)
		if err := app.Err(); err != nil {
			return err
		}
		return runApp(cmd.Context(), app, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	},
}
