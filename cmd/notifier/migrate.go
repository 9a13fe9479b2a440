package main

import (
	"context"
	"encoding/json"

	"github.com/smallbiznis/notifier/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var migrateStatusOnly bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			conn *gorm.DB
			log  *zap.Logger
		)
		app := fx.New(
			infraModules(),
			fx.Populate(&conn, &log),
		)
		if err := app.Err(); err != nil {
			return err
		}
		return runApp(cmd.Context(), app, func(ctx context.Context) error {
			if !migrateStatusOnly {
				if err := migration.Apply(conn, log); err != nil {
					return err
				}
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			status, err := migration.CurrentStatus(sqlDB)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
		})
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatusOnly, "status", false, "print the schema version without applying anything")
}
