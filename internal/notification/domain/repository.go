package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/clock"
)

// Repository is the record store the scheduler reads candidates from and
// advances escalation steps in.
type Repository interface {
	// ListTenants returns organizations with the campaign enabled. A missing
	// policy row counts as enabled with the organization's timezone.
	ListTenants(ctx context.Context, campaign Campaign) ([]TenantPolicy, error)

	// ListOverdueInvoices and ListOverdueInvoicesSince skip invoices reminded
	// at or after notifiedBefore, so one entity moves at most one step per day.
	ListOverdueInvoices(ctx context.Context, orgID snowflake.ID, dueDates []clock.Date, maxStep int, notifiedBefore time.Time) ([]Candidate, error)
	ListOverdueInvoicesSince(ctx context.Context, orgID snowflake.ID, notAfter clock.Date, maxStep int, notifiedBefore time.Time) ([]Candidate, error)
	GetInvoiceCandidate(ctx context.Context, invoiceID snowflake.ID) (Candidate, error)

	// FindInactiveAccount returns the organization's own account when it has
	// not created an invoice yet and still has fixed steps left.
	FindInactiveAccount(ctx context.Context, orgID snowflake.ID, maxStep int, notifiedBefore time.Time) (*Candidate, error)
	ListRecurringAccounts(ctx context.Context, orgID snowflake.ID, step int, sentBefore time.Time) ([]Candidate, error)
	GetAccountCandidate(ctx context.Context, orgID snowflake.ID) (Candidate, error)

	// AdvanceInvoiceStep and AdvanceAccountStep move the step from `from` to
	// from+1. ErrStepConflict means another writer got there first.
	AdvanceInvoiceStep(ctx context.Context, invoiceID snowflake.ID, from int, sentAt time.Time) error
	AdvanceAccountStep(ctx context.Context, orgID snowflake.ID, from int, sentAt time.Time) error
	TouchAccountRecurrence(ctx context.Context, orgID snowflake.ID, step int, sentBefore, sentAt time.Time) error

	GetSenderProfile(ctx context.Context, orgID snowflake.ID) (SenderProfile, error)
}
