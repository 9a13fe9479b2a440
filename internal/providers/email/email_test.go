package email

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/smallbiznis/notifier/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubProvider struct {
	err   error
	calls int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	s.calls++
	if s.err != nil {
		return SendResult{Provider: "stub"}, s.err
	}
	return SendResult{MessageID: "m-1", Provider: "stub"}, nil
}

func validMessage() Message {
	return Message{To: []string{"buyer@client.test"}, Subject: "Reminder", HTML: "<p>hi</p>"}
}

func TestMessageValidate(t *testing.T) {
	assert.ErrorIs(t, Message{To: []string{" "}, Subject: "x"}.Validate(), ErrNoRecipients)
	assert.ErrorIs(t, Message{To: []string{"a@b.test"}}.Validate(), ErrEmptySubject)
	assert.NoError(t, validMessage().Validate())
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute}, zaptest.NewLogger(t))
	cb.now = func() time.Time { return now }

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe while half-open")

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(time.Minute)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestProtectedProviderFailsFast(t *testing.T) {
	stub := &stubProvider{err: errors.New("421 try later")}
	p := NewProtectedProvider(stub, NewCircuitBreaker(BreakerConfig{Name: "stub", MaxFailures: 1, RecoveryTimeout: time.Hour}, nil))

	_, err := p.Send(context.Background(), validMessage())
	assert.EqualError(t, err, "421 try later")

	res, err := p.Send(context.Background(), validMessage())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "stub", res.Provider)
	assert.Equal(t, 1, stub.calls)

	_, err = p.Send(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESProviderBuildsHTMLEmail(t *testing.T) {
	fake := &fakeSES{}
	p := newSESWithClient(fake, "billing@notifier.test", zaptest.NewLogger(t))

	msg := validMessage()
	msg.FromName = "Acme Studio"
	msg.ReplyTo = "owner@acme.test"
	res, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, SendResult{MessageID: "ses-123", Provider: "ses"}, res)

	require.NotNil(t, fake.input)
	assert.Equal(t, `"Acme Studio" <billing@notifier.test>`, aws.ToString(fake.input.Source))
	assert.Equal(t, []string{"buyer@client.test"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, []string{"owner@acme.test"}, fake.input.ReplyToAddresses)
	assert.Equal(t, "<p>hi</p>", aws.ToString(fake.input.Message.Body.Html.Data))
	assert.Nil(t, fake.input.Message.Body.Text)

	fake.err = errors.New("throttled")
	_, err = p.Send(context.Background(), msg)
	assert.ErrorContains(t, err, "ses send failed")
}

func TestSMTPBuildMessageHeaders(t *testing.T) {
	p := NewSMTP(Config{Host: "localhost", Port: 25, From: "no-reply@notifier.test"})
	p.now = func() time.Time { return time.Date(2024, 3, 10, 4, 30, 0, 0, time.UTC) }

	from, err := mail.ParseAddress(p.cfg.From)
	require.NoError(t, err)
	msg := validMessage()
	msg.FromName = "Acme"
	msg.ReplyTo = "owner@acme.test"
	raw := string(p.buildMessage(from, []string{"buyer@client.test"}, msg, "<id@notifier.test>"))

	assert.Contains(t, raw, "From: \"Acme\" <no-reply@notifier.test>\r\n")
	assert.Contains(t, raw, "To: buyer@client.test\r\n")
	assert.Contains(t, raw, "Reply-To: owner@acme.test\r\n")
	assert.Contains(t, raw, "Message-ID: <id@notifier.test>\r\n")
	assert.Contains(t, raw, "Date: Sun, 10 Mar 2024 04:30:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>hi</p>"))
}

func TestSMTPSendRespectsContext(t *testing.T) {
	p := NewSMTP(Config{Host: "127.0.0.1", Port: 1, From: "no-reply@notifier.test"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, validMessage())
	assert.Error(t, err)
}

func TestLogProvider(t *testing.T) {
	p := NewLogProvider(zaptest.NewLogger(t))
	res, err := p.Send(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, "log", res.Provider)
	assert.True(t, strings.HasSuffix(res.MessageID, "@notifier.local>"))
}

func TestNewFromConfigSelectsProvider(t *testing.T) {
	log := zaptest.NewLogger(t)

	p, err := NewFromConfig(config.Config{Email: config.EmailConfig{Provider: "log"}}, log)
	require.NoError(t, err)
	assert.IsType(t, &LogProvider{}, p)

	p, err = NewFromConfig(config.Config{Email: config.EmailConfig{Provider: "smtp", SMTPHost: "mail", SMTPPort: 587, SMTPFrom: "a@b.test"}}, log)
	require.NoError(t, err)
	protected, ok := p.(*ProtectedProvider)
	require.True(t, ok)
	assert.Equal(t, "smtp", protected.Name())
	assert.Equal(t, StateClosed, protected.Breaker().State())

	_, err = NewFromConfig(config.Config{Email: config.EmailConfig{Provider: "pigeon"}}, log)
	assert.Error(t, err)

	_, err = NewFromConfig(config.Config{Email: config.EmailConfig{Provider: "ses"}}, log)
	assert.Error(t, err, "ses without a sender address")
}
