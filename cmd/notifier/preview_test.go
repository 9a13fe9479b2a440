package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/clock"
	"github.com/smallbiznis/notifier/internal/notification/dispatch"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	"github.com/smallbiznis/notifier/internal/notification/render"
	"github.com/smallbiznis/notifier/internal/notification/repository"
	"github.com/smallbiznis/notifier/internal/providers/email"
	schedtest "github.com/smallbiznis/notifier/internal/scheduler/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type previewEnv struct {
	repo       domain.Repository
	fx         *schedtest.Fixtures
	dispatcher *dispatch.Dispatcher
}

func newPreviewEnv(t *testing.T) previewEnv {
	t.Helper()
	conn, err := schedtest.OpenDB(t.Name())
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	renderer, err := render.NewRenderer("https://app.notifier.test", "Notifier")
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	return previewEnv{
		repo:       repository.Provide(conn),
		fx:         schedtest.NewFixtures(conn, node),
		dispatcher: dispatch.NewDispatcher(renderer, &email.NoOpProvider{}, nil, time.Second, log, nil),
	}
}

func TestPreviewOverdueInvoice(t *testing.T) {
	ctx := context.Background()
	e := newPreviewEnv(t)

	orgID, err := e.fx.InsertOrg(ctx, schedtest.Org{Name: "Acme Studio", OwnerEmail: "owner@acme.test", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	customerID, err := e.fx.InsertCustomer(ctx, orgID, "Jordan Buyer", "buyer@example.com")
	require.NoError(t, err)
	invoiceID, err := e.fx.InsertInvoice(ctx, schedtest.Invoice{
		OrgID:      orgID,
		CustomerID: customerID,
		Number:     "INV-2002",
		DueDate:    clock.MustParseDate("2024-03-01"),
		AmountDue:  9900,
	})
	require.NoError(t, err)

	msg, err := previewMessage(ctx, e.repo, e.dispatcher, domain.CampaignOverdueInvoices, invoiceID, 3)
	require.NoError(t, err)
	assert.Equal(t, "Final notice: invoice INV-2002 is overdue", msg.Subject)
	assert.Contains(t, msg.HTML, "https://app.notifier.test/invoices/"+invoiceID.String())

	// Nothing was sent, so the step stays put.
	step, err := e.fx.InvoiceStep(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, 0, step)
}

func TestPreviewInactiveAccount(t *testing.T) {
	ctx := context.Background()
	e := newPreviewEnv(t)

	orgID, err := e.fx.InsertOrg(ctx, schedtest.Org{Name: "Quiet Co", OwnerName: "Sam", OwnerEmail: "sam@quiet.test", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)

	msg, err := previewMessage(ctx, e.repo, e.dispatcher, domain.CampaignInactiveAccounts, orgID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Notifier: create your first invoice", msg.Subject)

	msg, err = previewMessage(ctx, e.repo, e.dispatcher, domain.CampaignInactiveAccounts, orgID, 9)
	require.NoError(t, err)
	assert.Equal(t, "Your monthly check-in from Notifier", msg.Subject)
}

func TestPreviewUnknownEntity(t *testing.T) {
	e := newPreviewEnv(t)

	_, err := previewMessage(context.Background(), e.repo, e.dispatcher, domain.CampaignInactiveAccounts, snowflake.ID(42), 1)
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestWritePreview(t *testing.T) {
	msg := render.Message{Subject: "Hello", HTML: "<p>body</p>"}

	var full bytes.Buffer
	require.NoError(t, writePreview(&full, msg, false))
	assert.Equal(t, "Subject: Hello\n\n<p>body</p>\n", full.String())

	var subject bytes.Buffer
	require.NoError(t, writePreview(&subject, msg, true))
	assert.Equal(t, "Hello\n", subject.String())
}
