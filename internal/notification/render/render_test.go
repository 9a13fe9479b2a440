package render

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/clock"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceCandidate() domain.Candidate {
	return domain.Candidate{
		ID:           snowflake.ID(4242),
		OrgID:        snowflake.ID(1),
		Kind:         domain.EntityInvoice,
		AnchorDate:   clock.MustParseDate("2024-03-02"),
		ContactEmail: "buyer@client.test",
		ContactName:  "Jordan <Buyer>",
		Reference:    "INV-0007",
		AmountDue:    125050,
		Currency:     "usd",
	}
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("https://app.example.com/", "Ledgerly")
	require.NoError(t, err)
	return r
}

func TestRenderOverdueInvoiceVariesByAttempt(t *testing.T) {
	r := newTestRenderer(t)
	sender := domain.SenderProfile{OrgName: "Acme Studio"}

	subjects := map[int]string{
		1: "Reminder: invoice INV-0007 is overdue",
		2: "Second reminder: invoice INV-0007 is still unpaid",
		3: "Final notice: invoice INV-0007 is overdue",
		4: "Final notice: invoice INV-0007 is overdue",
	}
	for attempt, want := range subjects {
		msg, err := r.Render(context.Background(), domain.CampaignOverdueInvoices, invoiceCandidate(), attempt, sender)
		require.NoError(t, err)
		assert.Equal(t, want, msg.Subject)
	}

	msg, err := r.Render(context.Background(), domain.CampaignOverdueInvoices, invoiceCandidate(), 1, sender)
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, `href="https://app.example.com/invoices/4242"`)
	assert.Contains(t, msg.HTML, "USD 1,250.50")
	assert.Contains(t, msg.HTML, "2024-03-02")
	assert.Contains(t, msg.HTML, "Sent on behalf of Acme Studio.")
	assert.Contains(t, msg.HTML, "Jordan &lt;Buyer&gt;")
	assert.NotContains(t, msg.HTML, "<Buyer>")
}

func TestRenderIsDeterministic(t *testing.T) {
	r := newTestRenderer(t)
	sender := domain.SenderProfile{OrgName: "Acme Studio", FromName: "Acme Billing"}

	first, err := r.Render(context.Background(), domain.CampaignOverdueInvoices, invoiceCandidate(), 2, sender)
	require.NoError(t, err)
	second, err := r.Render(context.Background(), domain.CampaignOverdueInvoices, invoiceCandidate(), 2, sender)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderInactiveAccount(t *testing.T) {
	r := newTestRenderer(t)
	account := domain.Candidate{ID: snowflake.ID(1), Kind: domain.EntityAccount, ContactEmail: "owner@acme.test"}
	sender := domain.SenderProfile{OrgName: "Acme Studio"}

	msg, err := r.Render(context.Background(), domain.CampaignInactiveAccounts, account, 1, sender)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Ledgerly: create your first invoice", msg.Subject)
	assert.Contains(t, msg.HTML, `href="https://app.example.com/invoices/new"`)
	assert.Contains(t, msg.HTML, "Hi Acme Studio,")

	msg, err = r.Render(context.Background(), domain.CampaignInactiveAccounts, account, 4, sender)
	require.NoError(t, err)
	assert.Equal(t, "Ledgerly is ready when you are", msg.Subject)

	msg, err = r.Render(context.Background(), domain.CampaignInactiveAccounts, account, 5, sender)
	require.NoError(t, err)
	assert.Equal(t, "Your monthly check-in from Ledgerly", msg.Subject)
	assert.Contains(t, msg.HTML, "It has been a while")
}

func TestRenderErrors(t *testing.T) {
	r := newTestRenderer(t)
	ctx := context.Background()

	_, err := r.Render(ctx, domain.Campaign("birthday"), invoiceCandidate(), 1, domain.SenderProfile{})
	assert.ErrorIs(t, err, domain.ErrRender)
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	_, err = r.Render(ctx, domain.CampaignOverdueInvoices, invoiceCandidate(), 0, domain.SenderProfile{})
	assert.ErrorIs(t, err, domain.ErrRender)
	assert.ErrorIs(t, err, ErrInvalidAttempt)

	noBase, err := NewRenderer("  ", "")
	require.NoError(t, err)
	_, err = noBase.Render(ctx, domain.CampaignOverdueInvoices, invoiceCandidate(), 1, domain.SenderProfile{})
	assert.ErrorIs(t, err, domain.ErrMissingBaseURL)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Render(cancelled, domain.CampaignOverdueInvoices, invoiceCandidate(), 1, domain.SenderProfile{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "USD 0.05", formatMoney(5, ""))
	assert.Equal(t, "EUR 1,234,567.89", formatMoney(123456789, "eur"))
	assert.Equal(t, "IDR -12.00", formatMoney(-1200, "IDR"))
}
