package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Notifier - escalating reminder emails for invoices and quiet accounts",
	Long: `Notifier sends escalating reminder emails on behalf of each organization.

Campaigns:
  overdue_invoices   - remind customers 1, 3 and 7 days after the due date
  inactive_accounts  - nudge owners who have not created an invoice yet

Available commands:
  serve    - Run the scheduler loop and the ops HTTP server
  run      - Run every enabled campaign once and print the summary
  migrate  - Apply the database migrations
  preview  - Render one notification without sending it

Examples:
  notifier serve
  notifier run
  notifier preview --campaign overdue_invoices --entity-id 1790 --attempt 2`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(previewCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
