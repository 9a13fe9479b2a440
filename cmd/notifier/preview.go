package main

import (
	"context"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/notification/dispatch"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	"github.com/smallbiznis/notifier/internal/notification/render"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var previewOpts struct {
	campaign string
	entityID string
	attempt  int
	subject  bool
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render one notification without sending it",
	Long: `Preview renders the message a campaign would send for an entity at a
given attempt. Nothing is sent and no step is advanced.

The entity is an invoice id for overdue_invoices and an organization id
for inactive_accounts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		campaign, err := domain.ParseCampaign(previewOpts.campaign)
		if err != nil {
			return fmt.Errorf("campaign %q: %w", previewOpts.campaign, err)
		}
		entityID, err := snowflake.ParseString(previewOpts.entityID)
		if err != nil {
			return fmt.Errorf("entity id %q: %w", previewOpts.entityID, err)
		}

		var (
			repo       domain.Repository
			dispatcher *dispatch.Dispatcher
		)
		app := fx.New(
			schedulerModules(),
			fx.Populate(&repo, &dispatcher),
		)
		if err := app.Err(); err != nil {
			return err
		}
		return runApp(cmd.Context(), app, func(ctx context.Context) error {
			msg, err := previewMessage(ctx, repo, dispatcher, campaign, entityID, previewOpts.attempt)
			if err != nil {
				return err
			}
			return writePreview(cmd.OutOrStdout(), msg, previewOpts.subject)
		})
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewOpts.campaign, "campaign", string(domain.CampaignOverdueInvoices), "campaign to render (overdue_invoices, inactive_accounts)")
	previewCmd.Flags().StringVar(&previewOpts.entityID, "entity-id", "", "invoice or organization id")
	previewCmd.Flags().IntVar(&previewOpts.attempt, "attempt", 1, "attempt number, starting at 1")
	previewCmd.Flags().BoolVar(&previewOpts.subject, "subject-only", false, "print only the subject line")
	_ = previewCmd.MarkFlagRequired("entity-id")
}

type previewer interface {
	Preview(ctx context.Context, req dispatch.Request) (render.Message, error)
}

func previewMessage(ctx context.Context, repo domain.Repository, p previewer, campaign domain.Campaign, entityID snowflake.ID, attempt int) (render.Message, error) {
	var (
		candidate domain.Candidate
		err       error
	)
	if domain.EntityKindFor(campaign) == domain.EntityAccount {
		candidate, err = repo.GetAccountCandidate(ctx, entityID)
	} else {
		candidate, err = repo.GetInvoiceCandidate(ctx, entityID)
	}
	if err != nil {
		return render.Message{}, fmt.Errorf("load %s %s: %w", domain.EntityKindFor(campaign), entityID, err)
	}

	sender, err := repo.GetSenderProfile(ctx, candidate.OrgID)
	if err != nil {
		return render.Message{}, fmt.Errorf("load sender profile: %w", err)
	}

	return p.Preview(ctx, dispatch.Request{
		Campaign:  campaign,
		Candidate: candidate,
		Attempt:   attempt,
		Sender:    sender,
	})
}

func writePreview(w io.Writer, msg render.Message, subjectOnly bool) error {
	if subjectOnly {
		_, err := fmt.Fprintln(w, msg.Subject)
		return err
	}
	_, err := fmt.Fprintf(w, "Subject: %s\n\n%s\n", msg.Subject, msg.HTML)
	return err
}
