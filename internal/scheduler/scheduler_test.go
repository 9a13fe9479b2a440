package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	auditrepo "github.com/smallbiznis/notifier/internal/audit/repository"
	auditservice "github.com/smallbiznis/notifier/internal/audit/service"
	"github.com/smallbiznis/notifier/internal/clock"
	"github.com/smallbiznis/notifier/internal/config"
	"github.com/smallbiznis/notifier/internal/notification/dispatch"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	"github.com/smallbiznis/notifier/internal/notification/render"
	notificationrepo "github.com/smallbiznis/notifier/internal/notification/repository"
	obsmetrics "github.com/smallbiznis/notifier/internal/observability/metrics"
	"github.com/smallbiznis/notifier/internal/providers/email"
	"github.com/smallbiznis/notifier/internal/ratelimit"
	schedtest "github.com/smallbiznis/notifier/internal/scheduler/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const testBaseURL = "https://app.notifier.test"

var testNow = time.Date(2024, 3, 10, 4, 30, 0, 0, time.UTC)

type recordingProvider struct {
	mu       sync.Mutex
	messages []email.Message
	err      error
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Send(_ context.Context, msg email.Message) (email.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return email.SendResult{}, p.err
	}
	p.messages = append(p.messages, msg)
	return email.SendResult{
		MessageID: fmt.Sprintf("<%d@notifier.test>", len(p.messages)),
		Provider:  "recording",
	}, nil
}

func (p *recordingProvider) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *recordingProvider) sent() []email.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]email.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// failingRepo fails invoice selection for a single organization.
type failingRepo struct {
	domain.Repository
	orgID snowflake.ID
}

func (r failingRepo) ListOverdueInvoices(ctx context.Context, orgID snowflake.ID, dueDates []clock.Date, maxStep int, notifiedBefore time.Time) ([]domain.Candidate, error) {
	if orgID == r.orgID {
		return nil, fmt.Errorf("%w: list overdue invoices: connection reset", domain.ErrStore)
	}
	return r.Repository.ListOverdueInvoices(ctx, orgID, dueDates, maxStep, notifiedBefore)
}

// commitFailingRepo accepts sends but cannot store the advanced step.
type commitFailingRepo struct {
	domain.Repository
}

func (r commitFailingRepo) AdvanceInvoiceStep(context.Context, snowflake.ID, int, time.Time) error {
	return fmt.Errorf("%w: advance invoice step: disk full", domain.ErrStore)
}

type testEnv struct {
	sched    *Scheduler
	fx       *schedtest.Fixtures
	clock    *clock.FakeClock
	provider *recordingProvider
	lock     *ratelimit.LocalLocker
	registry *prometheus.Registry
}

type envOption func(*Params)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	registry := prometheus.NewRegistry()
	t.Cleanup(swapPrometheusRegistry(registry))
	obsmetrics.ResetSchedulerMetricsForTest()

	db, err := schedtest.OpenDB(t.Name())
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	renderer, err := render.NewRenderer(testBaseURL, "Notifier")
	require.NoError(t, err)
	provider := &recordingProvider{}
	dispatcher := dispatch.NewDispatcher(renderer, provider, nil, time.Second, log, nil)

	fakeClock := clock.NewFakeClock(testNow)
	lock := ratelimit.NewLocalLocker()

	params := Params{
		Config:     Config{BaseURL: testBaseURL},
		Log:        log,
		Repo:       notificationrepo.Provide(db),
		Dispatcher: dispatcher,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Repo:  auditrepo.Provide(),
		}),
		Campaigns: config.NewStaticCampaignConfigHolder(config.DefaultCampaignsConfig()),
		Lock:      lock,
		GenID:     node,
		Clock:     fakeClock,
	}
	for _, opt := range opts {
		opt(&params)
	}

	sched, err := New(params)
	require.NoError(t, err)

	return &testEnv{
		sched:    sched,
		fx:       schedtest.NewFixtures(db, node),
		clock:    fakeClock,
		provider: provider,
		lock:     lock,
		registry: registry,
	}
}

// seedInvoice creates an org with one customer and one open invoice.
func (e *testEnv) seedInvoice(t *testing.T, timezone, customerEmail string, due clock.Date) (snowflake.ID, snowflake.ID) {
	t.Helper()
	ctx := context.Background()
	orgID, err := e.fx.InsertOrg(ctx, schedtest.Org{
		Name:       "Acme Studio",
		Timezone:   timezone,
		OwnerEmail: "owner@acme.test",
		CreatedAt:  testNow.AddDate(0, -6, 0),
	})
	require.NoError(t, err)
	customerID, err := e.fx.InsertCustomer(ctx, orgID, "Jordan Buyer", customerEmail)
	require.NoError(t, err)
	invoiceID, err := e.fx.InsertInvoice(ctx, schedtest.Invoice{
		OrgID:      orgID,
		CustomerID: customerID,
		Number:     "INV-1001",
		DueDate:    due,
		AmountDue:  125050,
	})
	require.NoError(t, err)
	return orgID, invoiceID
}

func (e *testEnv) invoiceStep(t *testing.T, id snowflake.ID) int {
	t.Helper()
	step, err := e.fx.InvoiceStep(context.Background(), id)
	require.NoError(t, err)
	return step
}

func (e *testEnv) logs(t *testing.T, orgID snowflake.ID) []schedtest.LogRow {
	t.Helper()
	rows, err := e.fx.Logs(context.Background(), orgID)
	require.NoError(t, err)
	return rows
}

func TestRunOnceUsesTenantLocalDate(t *testing.T) {
	e := newTestEnv(t)

	// At 04:30Z it is still 9 March in UTC-5, so the invoice is 7 days
	// overdue there and 8 days overdue in UTC.
	due := clock.MustParseDate("2024-03-02")
	localOrg, localInvoice := e.seedInvoice(t, "UTC-5", "buyer@example.com", due)
	_, utcInvoice := e.seedInvoice(t, "UTC", "other@example.com", due)

	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.Locked)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Equal(t, 0, summary.NotificationsFailed)
	assert.Equal(t, 1, e.invoiceStep(t, localInvoice))
	assert.Equal(t, 0, e.invoiceStep(t, utcInvoice))

	sent := e.provider.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"buyer@example.com"}, sent[0].To)
	assert.Equal(t, "Reminder: invoice INV-1001 is overdue", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, testBaseURL+"/invoices/"+localInvoice.String())
	assert.Equal(t, "Acme Studio", sent[0].FromName)
	assert.Equal(t, "owner@acme.test", sent[0].ReplyTo)

	rows := e.logs(t, localOrg)
	assert.Equal(t, []string{"queued", "attempted", "success"}, schedtest.Statuses(rows, localInvoice))
	for _, row := range rows {
		assert.Equal(t, 1, row.Attempt)
		assert.Equal(t, string(domain.CampaignOverdueInvoices), row.Campaign)
	}
}

func TestRunOnceFailedSendKeepsStepAndRetries(t *testing.T) {
	e := newTestEnv(t)
	orgID, invoiceID := e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-03-09"))

	e.provider.setErr(errors.New("mailbox unavailable"))
	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.NotificationsSent)
	assert.Equal(t, 1, summary.NotificationsFailed)
	assert.Equal(t, 0, e.invoiceStep(t, invoiceID))

	rows := e.logs(t, orgID)
	assert.Equal(t, []string{"queued", "attempted", "failed"}, schedtest.Statuses(rows, invoiceID))
	last := rows[len(rows)-1]
	assert.Equal(t, 1, last.Attempt)
	assert.Contains(t, last.Error, "mailbox unavailable")

	e.provider.setErr(nil)
	summary, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Equal(t, 1, e.invoiceStep(t, invoiceID))
}

func TestRunOnceWalksThresholdsOncePerDay(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, invoiceID := e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-03-09"))

	steps := []struct {
		advanceDays int
		wantSent    int
		wantStep    int
	}{
		{advanceDays: 0, wantSent: 1, wantStep: 1}, // 1 day overdue
		{advanceDays: 0, wantSent: 0, wantStep: 1}, // rerun on the same day
		{advanceDays: 1, wantSent: 0, wantStep: 1}, // 2 days: between thresholds
		{advanceDays: 1, wantSent: 1, wantStep: 2}, // 3 days
		{advanceDays: 3, wantSent: 0, wantStep: 2}, // 6 days
		{advanceDays: 1, wantSent: 1, wantStep: 3}, // 7 days
		{advanceDays: 1, wantSent: 0, wantStep: 3}, // complete
		{advanceDays: 30, wantSent: 0, wantStep: 3},
	}
	for i, step := range steps {
		e.clock.AdvanceDays(step.advanceDays)
		summary, err := e.sched.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, step.wantSent, summary.NotificationsSent, "run %d", i)
		assert.Equal(t, step.wantStep, e.invoiceStep(t, invoiceID), "run %d", i)
	}

	subjects := []string{}
	for _, msg := range e.provider.sent() {
		subjects = append(subjects, msg.Subject)
	}
	assert.Equal(t, []string{
		"Reminder: invoice INV-1001 is overdue",
		"Second reminder: invoice INV-1001 is still unpaid",
		"Final notice: invoice INV-1001 is overdue",
	}, subjects)
}

func TestRunOnceCatchUpAdvancesOneStepPerDay(t *testing.T) {
	e := newTestEnv(t, func(p *Params) {
		campaigns := config.DefaultCampaignsConfig()
		campaigns.OverdueInvoices.MatchMode = "catch_up"
		p.Campaigns = config.NewStaticCampaignConfigHolder(campaigns)
	})
	ctx := context.Background()
	_, invoiceID := e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-02-20"))

	steps := []struct {
		advanceDays int
		wantSent    int
		wantStep    int
	}{
		{advanceDays: 0, wantSent: 1, wantStep: 1}, // 19 days overdue, nothing sent yet
		{advanceDays: 0, wantSent: 0, wantStep: 1}, // rerun on the same day
		{advanceDays: 1, wantSent: 1, wantStep: 2},
		{advanceDays: 0, wantSent: 0, wantStep: 2},
		{advanceDays: 1, wantSent: 1, wantStep: 3},
		{advanceDays: 1, wantSent: 0, wantStep: 3}, // complete
		{advanceDays: 1, wantSent: 0, wantStep: 3},
	}
	for i, step := range steps {
		e.clock.AdvanceDays(step.advanceDays)
		summary, err := e.sched.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, step.wantSent, summary.NotificationsSent, "run %d", i)
		assert.Equal(t, step.wantStep, e.invoiceStep(t, invoiceID), "run %d", i)
	}
	assert.Len(t, e.provider.sent(), 3)
}

func TestRunOnceInvalidZoneKeepsDefaultZoneAcrossTenantsAndRuns(t *testing.T) {
	e := newTestEnv(t, func(p *Params) { p.Config.DefaultTimezone = "Asia/Tokyo" })
	// 20:00Z is already 11 March in Tokyo, one day after the due date.
	e.clock.Set(time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC))
	due := clock.MustParseDate("2024-03-10")
	_, first := e.seedInvoice(t, "Bad/Zone", "a@example.com", due)
	_, second := e.seedInvoice(t, "Bad/Zone", "b@example.com", due)

	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.NotificationsSent)
	assert.Equal(t, 1, e.invoiceStep(t, first))
	assert.Equal(t, 1, e.invoiceStep(t, second))

	_, third := e.seedInvoice(t, "Bad/Zone", "c@example.com", due)
	summary, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Equal(t, 1, e.invoiceStep(t, third))
}

func TestRunOnceRecordsFailedStepCommit(t *testing.T) {
	e := newTestEnv(t)
	orgID, invoiceID := e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-03-09"))
	e.sched.repo = commitFailingRepo{Repository: e.sched.repo}

	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Equal(t, 0, e.invoiceStep(t, invoiceID))

	rows := e.logs(t, orgID)
	assert.Equal(t, []string{"queued", "attempted", "success", "failed"}, schedtest.Statuses(rows, invoiceID))
	last := rows[len(rows)-1]
	assert.Equal(t, "step commit failed", last.Message)
	assert.Contains(t, last.Error, "disk full")
}

func TestRunOnceCountsTenantsOnceAcrossCampaigns(t *testing.T) {
	e := newTestEnv(t)
	e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-03-09"))

	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TenantsChecked)
	assert.Equal(t, 1, summary.Campaigns[string(domain.CampaignOverdueInvoices)].TenantsChecked)
	assert.Equal(t, 1, summary.Campaigns[string(domain.CampaignInactiveAccounts)].TenantsChecked)
}

func TestRunOnceStopsWhenInvoiceIsPaid(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, invoiceID := e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-03-09"))

	_, err := e.sched.RunOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, e.fx.MarkInvoicePaid(ctx, invoiceID))

	e.clock.AdvanceDays(2)
	summary, err := e.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NotificationsSent)
	assert.Equal(t, 1, e.invoiceStep(t, invoiceID))
}

func TestRunOnceSkipsMissingContact(t *testing.T) {
	e := newTestEnv(t)
	orgID, invoiceID := e.seedInvoice(t, "UTC", "", clock.MustParseDate("2024-03-09"))

	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.NotificationsSent)
	assert.Equal(t, 1, summary.Skipped["no_contact"])
	assert.Equal(t, 0, e.invoiceStep(t, invoiceID))
	assert.Empty(t, e.provider.sent())

	rows := e.logs(t, orgID)
	require.Equal(t, []string{"skipped"}, schedtest.Statuses(rows, invoiceID))
	assert.Equal(t, "no contact target", rows[0].Message)
}

func TestRunOnceNudgesInactiveAccount(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	orgID, err := e.fx.InsertOrg(ctx, schedtest.Org{
		Name:       "Fresh Co",
		Timezone:   "UTC",
		OwnerName:  "Sam",
		OwnerEmail: "sam@fresh.test",
		CreatedAt:  time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	summary, err := e.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Equal(t, 1, summary.Campaigns[string(domain.CampaignInactiveAccounts)].NotificationsSent)

	step, lastSent, err := e.fx.AccountStep(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, step)
	require.NotNil(t, lastSent)
	assert.True(t, lastSent.Equal(testNow))

	sent := e.provider.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"sam@fresh.test"}, sent[0].To)
	assert.Equal(t, "Welcome to Notifier: create your first invoice", sent[0].Subject)
	assert.Equal(t, []string{"queued", "attempted", "success"}, schedtest.Statuses(e.logs(t, orgID), orgID))
}

func TestRunOnceRecursInactiveAccount(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	lastSent := testNow.AddDate(0, 0, -31)
	orgID, err := e.fx.InsertOrg(ctx, schedtest.Org{
		Name:       "Quiet Co",
		Timezone:   "UTC",
		OwnerEmail: "owner@quiet.test",
		CreatedAt:  testNow.AddDate(0, -3, 0),
		NudgeStep:  4,
		LastSentAt: &lastSent,
	})
	require.NoError(t, err)

	summary, err := e.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotificationsSent)

	step, touched, err := e.fx.AccountStep(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 4, step)
	require.NotNil(t, touched)
	assert.True(t, touched.Equal(testNow))

	sent := e.provider.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Your monthly check-in from Notifier", sent[0].Subject)

	rows := e.logs(t, orgID)
	require.NotEmpty(t, rows)
	assert.Equal(t, 5, rows[len(rows)-1].Attempt)

	e.clock.AdvanceDays(29)
	summary, err = e.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NotificationsSent)

	e.clock.AdvanceDays(1)
	summary, err = e.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotificationsSent)
}

func TestRunOnceReturnsLockedWhenAnotherRunHoldsTheLock(t *testing.T) {
	e := newTestEnv(t)
	_, invoiceID := e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-03-09"))

	_, ok, err := e.lock.TryLock(context.Background(), runLockKey, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Locked)
	assert.Equal(t, 0, summary.NotificationsSent)
	assert.Equal(t, 0, e.invoiceStep(t, invoiceID))
	assert.Empty(t, e.provider.sent())
}

func TestRunOnceRequiresBaseURL(t *testing.T) {
	e := newTestEnv(t, func(p *Params) { p.Config.BaseURL = "  " })
	_, invoiceID := e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-03-09"))

	_, err := e.sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrMissingBaseURL)
	assert.Equal(t, 0, e.invoiceStep(t, invoiceID))
	assert.Empty(t, e.provider.sent())
}

func TestRunOnceIsolatesFailingTenant(t *testing.T) {
	e := newTestEnv(t, func(p *Params) { p.Config.TenantConcurrency = 2 })
	brokenOrg, brokenInvoice := e.seedInvoice(t, "UTC", "a@example.com", clock.MustParseDate("2024-03-09"))
	_, healthyInvoice := e.seedInvoice(t, "UTC", "b@example.com", clock.MustParseDate("2024-03-09"))
	e.sched.repo = failingRepo{Repository: e.sched.repo, orgID: brokenOrg}

	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)

	overdue := summary.Campaigns[string(domain.CampaignOverdueInvoices)]
	assert.Equal(t, 2, overdue.TenantsChecked)
	assert.Equal(t, 1, overdue.TenantsFailed)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Equal(t, 0, e.invoiceStep(t, brokenInvoice))
	assert.Equal(t, 1, e.invoiceStep(t, healthyInvoice))

	rows := e.logs(t, brokenOrg)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].EntityID)
	assert.Equal(t, "failed", rows[0].Status)
	assert.Contains(t, rows[0].Error, "connection reset")
}

func TestRunOnceHonoursEnabledCampaigns(t *testing.T) {
	e := newTestEnv(t, func(p *Params) {
		p.Config.EnabledCampaigns = []string{"INACTIVE_ACCOUNTS"}
	})
	_, invoiceID := e.seedInvoice(t, "UTC", "buyer@example.com", clock.MustParseDate("2024-03-09"))

	summary, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NotificationsSent)
	assert.Equal(t, 0, e.invoiceStep(t, invoiceID))
	_, ran := summary.Campaigns[string(domain.CampaignOverdueInvoices)]
	assert.False(t, ran)
}

func TestRunOnceCountsRuns(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)

	labels := map[string]string{
		"service": "notifier",
		"env":     "unknown",
		"result":  obsmetrics.RunResultCompleted,
	}
	assert.Equal(t, float64(1), getCounterValue(t, e.registry, "notifier_scheduler_runs_total", labels))
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "notifier",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "notifier",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "notifier_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "notifier",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "notifier_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobWrapsOtherErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}

	err = s.runJob(context.Background(), "overdue_invoices", time.Second, func(context.Context) error {
		return fmt.Errorf("list tenants: %w", domain.ErrStore)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.Contains(t, err.Error(), "overdue_invoices: list tenants")
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
