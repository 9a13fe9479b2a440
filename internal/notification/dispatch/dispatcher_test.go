package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/clock"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	"github.com/smallbiznis/notifier/internal/notification/render"
	"github.com/smallbiznis/notifier/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingProvider struct {
	mu    sync.Mutex
	sent  []email.Message
	err   error
	block bool
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Send(ctx context.Context, msg email.Message) (email.SendResult, error) {
	if p.block {
		<-ctx.Done()
		return email.SendResult{}, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return email.SendResult{}, p.err
	}
	p.sent = append(p.sent, msg)
	return email.SendResult{MessageID: "<msg-1@test>", Provider: p.Name()}, nil
}

type failingThrottle struct{ err error }

func (t failingThrottle) Wait(ctx context.Context) error { return t.err }

func overdueRequest() Request {
	return Request{
		Campaign: domain.CampaignOverdueInvoices,
		Candidate: domain.Candidate{
			ID:           snowflake.ID(77),
			OrgID:        snowflake.ID(1),
			Kind:         domain.EntityInvoice,
			AnchorDate:   clock.MustParseDate("2024-03-02"),
			ContactEmail: "buyer@client.test",
			Reference:    "INV-1",
			AmountDue:    5000,
			Currency:     "USD",
		},
		Attempt: 1,
		Sender:  domain.SenderProfile{OrgName: "Acme", FromName: "Acme Billing", ReplyTo: "owner@acme.test"},
	}
}

func newTestDispatcher(t *testing.T, provider email.Provider, baseURL string, timeout time.Duration) *Dispatcher {
	t.Helper()
	renderer, err := render.NewRenderer(baseURL, "Ledgerly")
	require.NoError(t, err)
	return NewDispatcher(renderer, provider, nil, timeout, zaptest.NewLogger(t), nil)
}

func TestDispatchSends(t *testing.T) {
	provider := &recordingProvider{}
	d := newTestDispatcher(t, provider, "https://app.example.com", time.Second)

	out := d.Dispatch(context.Background(), overdueRequest())
	require.True(t, out.Sent)
	assert.NoError(t, out.Err)
	assert.Equal(t, "<msg-1@test>", out.MessageID)
	assert.Equal(t, "recording", out.Provider)
	assert.Equal(t, "Reminder: invoice INV-1 is overdue", out.Subject)

	require.Len(t, provider.sent, 1)
	msg := provider.sent[0]
	assert.Equal(t, []string{"buyer@client.test"}, msg.To)
	assert.Equal(t, "Acme Billing", msg.FromName)
	assert.Equal(t, "owner@acme.test", msg.ReplyTo)
	assert.Contains(t, msg.HTML, "https://app.example.com/invoices/77")
}

func TestDispatchTransportFailure(t *testing.T) {
	provider := &recordingProvider{err: errors.New("550 mailbox unavailable")}
	d := newTestDispatcher(t, provider, "https://app.example.com", time.Second)

	out := d.Dispatch(context.Background(), overdueRequest())
	assert.False(t, out.Sent)
	assert.Equal(t, StageTransport, out.Stage)
	assert.ErrorIs(t, out.Err, domain.ErrTransport)
	assert.Contains(t, out.Err.Error(), "550 mailbox unavailable")
	assert.Equal(t, "Reminder: invoice INV-1 is overdue", out.Subject)
}

func TestDispatchSendTimeoutIsFailure(t *testing.T) {
	provider := &recordingProvider{block: true}
	d := newTestDispatcher(t, provider, "https://app.example.com", 20*time.Millisecond)

	out := d.Dispatch(context.Background(), overdueRequest())
	assert.False(t, out.Sent)
	assert.Equal(t, StageTransport, out.Stage)
	assert.ErrorIs(t, out.Err, domain.ErrTransport)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestDispatchRenderFailureSkipsTransport(t *testing.T) {
	provider := &recordingProvider{}
	d := newTestDispatcher(t, provider, "https://app.example.com", time.Second)

	req := overdueRequest()
	req.Attempt = 0
	out := d.Dispatch(context.Background(), req)
	assert.False(t, out.Sent)
	assert.Equal(t, StageRender, out.Stage)
	assert.ErrorIs(t, out.Err, domain.ErrRender)
	assert.Empty(t, provider.sent)
}

func TestDispatchThrottleFailure(t *testing.T) {
	provider := &recordingProvider{}
	renderer, err := render.NewRenderer("https://app.example.com", "Ledgerly")
	require.NoError(t, err)
	d := NewDispatcher(renderer, provider, failingThrottle{err: context.Canceled}, time.Second, zaptest.NewLogger(t), nil)

	out := d.Dispatch(context.Background(), overdueRequest())
	assert.False(t, out.Sent)
	assert.Equal(t, StageThrottle, out.Stage)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Empty(t, provider.sent)
}

func TestPreviewDoesNotSend(t *testing.T) {
	provider := &recordingProvider{}
	d := newTestDispatcher(t, provider, "https://app.example.com", time.Second)

	msg, err := d.Preview(context.Background(), overdueRequest())
	require.NoError(t, err)
	assert.Equal(t, "Reminder: invoice INV-1 is overdue", msg.Subject)
	assert.Empty(t, provider.sent)
}
