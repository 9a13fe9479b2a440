package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/clock"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

type tenantRow struct {
	OrgID    snowflake.ID
	Name     string
	Timezone string
	Enabled  bool
}

type invoiceRow struct {
	ID                 snowflake.ID
	OrgID              snowflake.ID
	InvoiceNumber      string
	DueDate            time.Time
	AmountDue          int64
	Currency           string
	ReminderStep       int
	ReminderLastSentAt *time.Time
	CustomerName       string
	CustomerEmail      string
}

type accountRow struct {
	ID              snowflake.ID
	Name            string
	OwnerName       string
	OwnerEmail      string
	CreatedAt       time.Time
	NudgeStep       int
	NudgeLastSentAt *time.Time
}

type senderRow struct {
	ID           snowflake.ID
	Name         string
	SenderName   *string
	ReplyToEmail *string
	OwnerEmail   string
}

const invoiceColumns = `i.id, i.org_id, i.invoice_number, i.due_date, i.amount_due, i.currency,
		        i.reminder_step, i.reminder_last_sent_at,
		        c.name AS customer_name, c.email AS customer_email`

const accountColumns = `o.id, o.name, o.owner_name, o.owner_email, o.created_at,
		        o.nudge_step, o.nudge_last_sent_at`

func (r *repo) ListTenants(ctx context.Context, campaign domain.Campaign) ([]domain.TenantPolicy, error) {
	var rows []tenantRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id AS org_id, o.name,
		        COALESCE(NULLIF(np.timezone, ''), o.timezone) AS timezone,
		        COALESCE(np.enabled, TRUE) AS enabled
		 FROM organizations o
		 LEFT JOIN notification_policies np
		   ON np.org_id = o.id AND np.campaign = ?
		 WHERE COALESCE(np.enabled, TRUE) = TRUE
		 ORDER BY o.id`,
		string(campaign),
	).Scan(&rows).Error
	if err != nil {
		return nil, storeErr("list tenants", err)
	}

	tenants := make([]domain.TenantPolicy, 0, len(rows))
	for _, row := range rows {
		tenants = append(tenants, domain.TenantPolicy{
			OrgID:    row.OrgID,
			Name:     row.Name,
			Timezone: strings.TrimSpace(row.Timezone),
			Enabled:  row.Enabled,
		})
	}
	return tenants, nil
}

func (r *repo) ListOverdueInvoices(ctx context.Context, orgID snowflake.ID, dueDates []clock.Date, maxStep int, notifiedBefore time.Time) ([]domain.Candidate, error) {
	if len(dueDates) == 0 {
		return []domain.Candidate{}, nil
	}
	dates := make([]time.Time, 0, len(dueDates))
	for _, d := range dueDates {
		dates = append(dates, d.Time())
	}

	var rows []invoiceRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices i
		 JOIN customers c ON c.id = i.customer_id AND c.org_id = i.org_id
		 WHERE i.org_id = ?
		   AND i.status NOT IN ?
		   AND i.due_date IN ?
		   AND i.reminder_step < ?
		   AND (i.reminder_last_sent_at IS NULL OR i.reminder_last_sent_at < ?)
		 ORDER BY i.due_date ASC, i.id ASC`,
		orgID,
		closedInvoiceStatuses(),
		dates,
		maxStep,
		notifiedBefore.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, storeErr("list overdue invoices", err)
	}
	return invoiceCandidates(rows), nil
}

func (r *repo) ListOverdueInvoicesSince(ctx context.Context, orgID snowflake.ID, notAfter clock.Date, maxStep int, notifiedBefore time.Time) ([]domain.Candidate, error) {
	var rows []invoiceRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices i
		 JOIN customers c ON c.id = i.customer_id AND c.org_id = i.org_id
		 WHERE i.org_id = ?
		   AND i.status NOT IN ?
		   AND i.due_date <= ?
		   AND i.reminder_step < ?
		   AND (i.reminder_last_sent_at IS NULL OR i.reminder_last_sent_at < ?)
		 ORDER BY i.due_date ASC, i.id ASC`,
		orgID,
		closedInvoiceStatuses(),
		notAfter.Time(),
		maxStep,
		notifiedBefore.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, storeErr("list overdue invoices since", err)
	}
	return invoiceCandidates(rows), nil
}

func (r *repo) GetInvoiceCandidate(ctx context.Context, invoiceID snowflake.ID) (domain.Candidate, error) {
	var row invoiceRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices i
		 JOIN customers c ON c.id = i.customer_id AND c.org_id = i.org_id
		 WHERE i.id = ?`,
		invoiceID,
	).Scan(&row).Error
	if err != nil {
		return domain.Candidate{}, storeErr("get invoice", err)
	}
	if row.ID == 0 {
		return domain.Candidate{}, gorm.ErrRecordNotFound
	}
	return invoiceCandidate(row), nil
}

func (r *repo) FindInactiveAccount(ctx context.Context, orgID snowflake.ID, maxStep int, notifiedBefore time.Time) (*domain.Candidate, error) {
	var row accountRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+`
		 FROM organizations o
		 WHERE o.id = ?
		   AND o.nudge_step < ?
		   AND (o.nudge_last_sent_at IS NULL OR o.nudge_last_sent_at < ?)
		   AND NOT EXISTS (SELECT 1 FROM invoices i WHERE i.org_id = o.id)`,
		orgID,
		maxStep,
		notifiedBefore.UTC(),
	).Scan(&row).Error
	if err != nil {
		return nil, storeErr("find inactive account", err)
	}
	if row.ID == 0 {
		return nil, nil
	}
	candidate := accountCandidate(row)
	return &candidate, nil
}

func (r *repo) GetAccountCandidate(ctx context.Context, orgID snowflake.ID) (domain.Candidate, error) {
	var row accountRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+`
		 FROM organizations o
		 WHERE o.id = ?`,
		orgID,
	).Scan(&row).Error
	if err != nil {
		return domain.Candidate{}, storeErr("get account", err)
	}
	if row.ID == 0 {
		return domain.Candidate{}, domain.ErrTenantNotFound
	}
	return accountCandidate(row), nil
}

func (r *repo) ListRecurringAccounts(ctx context.Context, orgID snowflake.ID, step int, sentBefore time.Time) ([]domain.Candidate, error) {
	var rows []accountRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+`
		 FROM organizations o
		 WHERE o.id = ?
		   AND o.nudge_step >= ?
		   AND o.nudge_last_sent_at IS NOT NULL
		   AND o.nudge_last_sent_at <= ?
		   AND NOT EXISTS (SELECT 1 FROM invoices i WHERE i.org_id = o.id)`,
		orgID,
		step,
		sentBefore.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, storeErr("list recurring accounts", err)
	}
	candidates := make([]domain.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, accountCandidate(row))
	}
	return candidates, nil
}

func (r *repo) AdvanceInvoiceStep(ctx context.Context, invoiceID snowflake.ID, from int, sentAt time.Time) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET reminder_step = ?, reminder_last_sent_at = ?, updated_at = ?
		 WHERE id = ? AND reminder_step = ?`,
		from+1,
		sentAt.UTC(),
		sentAt.UTC(),
		invoiceID,
		from,
	)
	if result.Error != nil {
		return storeErr("advance invoice step", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrStepConflict
	}
	return nil
}

func (r *repo) AdvanceAccountStep(ctx context.Context, orgID snowflake.ID, from int, sentAt time.Time) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET nudge_step = ?, nudge_last_sent_at = ?
		 WHERE id = ? AND nudge_step = ?`,
		from+1,
		sentAt.UTC(),
		orgID,
		from,
	)
	if result.Error != nil {
		return storeErr("advance account step", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrStepConflict
	}
	return nil
}

// TouchAccountRecurrence moves nudge_last_sent_at only while the account is
// still due, so a racing run that already sent is rejected.
func (r *repo) TouchAccountRecurrence(ctx context.Context, orgID snowflake.ID, step int, sentBefore, sentAt time.Time) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET nudge_last_sent_at = ?
		 WHERE id = ?
		   AND nudge_step = ?
		   AND nudge_last_sent_at IS NOT NULL
		   AND nudge_last_sent_at <= ?`,
		sentAt.UTC(),
		orgID,
		step,
		sentBefore.UTC(),
	)
	if result.Error != nil {
		return storeErr("touch account recurrence", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrStepConflict
	}
	return nil
}

func (r *repo) GetSenderProfile(ctx context.Context, orgID snowflake.ID) (domain.SenderProfile, error) {
	var row senderRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, name, sender_name, reply_to_email, owner_email
		 FROM organizations
		 WHERE id = ?`,
		orgID,
	).Scan(&row).Error
	if err != nil {
		return domain.SenderProfile{}, storeErr("get sender profile", err)
	}
	if row.ID == 0 {
		return domain.SenderProfile{}, domain.ErrTenantNotFound
	}

	profile := domain.SenderProfile{
		OrgID:    row.ID,
		OrgName:  row.Name,
		FromName: row.Name,
		ReplyTo:  strings.TrimSpace(row.OwnerEmail),
	}
	if row.SenderName != nil && strings.TrimSpace(*row.SenderName) != "" {
		profile.FromName = strings.TrimSpace(*row.SenderName)
	}
	if row.ReplyToEmail != nil && strings.TrimSpace(*row.ReplyToEmail) != "" {
		profile.ReplyTo = strings.TrimSpace(*row.ReplyToEmail)
	}
	return profile, nil
}

func closedInvoiceStatuses() []string {
	return []string{
		string(domain.InvoiceStatusDraft),
		string(domain.InvoiceStatusPaid),
		string(domain.InvoiceStatusVoid),
	}
}

func invoiceCandidates(rows []invoiceRow) []domain.Candidate {
	candidates := make([]domain.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, invoiceCandidate(row))
	}
	return candidates
}

func invoiceCandidate(row invoiceRow) domain.Candidate {
	return domain.Candidate{
		ID:           row.ID,
		OrgID:        row.OrgID,
		Kind:         domain.EntityInvoice,
		AnchorDate:   clock.DateOf(row.DueDate.UTC()),
		AnchorAt:     row.DueDate.UTC(),
		Step:         row.ReminderStep,
		LastSentAt:   row.ReminderLastSentAt,
		ContactEmail: strings.TrimSpace(row.CustomerEmail),
		ContactName:  row.CustomerName,
		Reference:    row.InvoiceNumber,
		AmountDue:    row.AmountDue,
		Currency:     row.Currency,
	}
}

// accountCandidate leaves AnchorDate empty; the caller converts AnchorAt
// into the tenant's calendar.
func accountCandidate(row accountRow) domain.Candidate {
	return domain.Candidate{
		ID:           row.ID,
		OrgID:        row.ID,
		Kind:         domain.EntityAccount,
		AnchorAt:     row.CreatedAt.UTC(),
		Step:         row.NudgeStep,
		LastSentAt:   row.NudgeLastSentAt,
		ContactEmail: strings.TrimSpace(row.OwnerEmail),
		ContactName:  row.OwnerName,
		Reference:    row.Name,
	}
}

func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStore, op, err)
}
