package email

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/notifier/internal/audit/masking"
	"go.uber.org/zap"
)

var (
	ErrNoRecipients = errors.New("email_no_recipients")
	ErrEmptySubject = errors.New("email_empty_subject")
)

// Message is a rendered HTML email ready for a transport.
type Message struct {
	To       []string
	Subject  string
	HTML     string
	FromName string
	ReplyTo  string
}

func (m Message) Validate() error {
	if len(recipients(m.To)) == 0 {
		return ErrNoRecipients
	}
	if strings.TrimSpace(m.Subject) == "" {
		return ErrEmptySubject
	}
	return nil
}

type SendResult struct {
	MessageID string
	Provider  string
}

type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (SendResult, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) Name() string { return "noop" }

func (p *NoOpProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.Validate(); err != nil {
		return SendResult{}, err
	}
	return SendResult{Provider: p.Name()}, nil
}

// LogProvider writes messages to the log instead of sending them.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.Validate(); err != nil {
		return SendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	to := recipients(msg.To)
	masked := make([]string, 0, len(to))
	for _, addr := range to {
		masked = append(masked, masking.MaskEmail(addr))
	}
	id := newMessageID("notifier.local")
	p.log.Info("email.logged",
		zap.Strings("to", masked),
		zap.String("subject", msg.Subject),
		zap.String("message_id", id),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return SendResult{MessageID: id, Provider: p.Name()}, nil
}

func recipients(to []string) []string {
	out := make([]string, 0, len(to))
	for _, addr := range to {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		out = append(out, addr)
	}
	return out
}
