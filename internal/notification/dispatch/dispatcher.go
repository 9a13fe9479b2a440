package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/notifier/internal/config"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	"github.com/smallbiznis/notifier/internal/notification/render"
	"github.com/smallbiznis/notifier/internal/observability/logger"
	"github.com/smallbiznis/notifier/internal/observability/metrics"
	"github.com/smallbiznis/notifier/internal/observability/tracing"
	"github.com/smallbiznis/notifier/internal/providers/email"
	"github.com/smallbiznis/notifier/internal/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultSendTimeout = 15 * time.Second

type Stage string

const (
	StageRender    Stage = "render"
	StageThrottle  Stage = "throttle"
	StageTransport Stage = "transport"
)

type Request struct {
	Campaign  domain.Campaign
	Candidate domain.Candidate
	Attempt   int
	Sender    domain.SenderProfile
}

// Outcome reports a dispatch. Err is set whenever Sent is false.
type Outcome struct {
	Sent      bool
	MessageID string
	Provider  string
	Subject   string
	Err       error
	Stage     Stage
}

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Renderer *render.Renderer
	Provider email.Provider
	Throttle ratelimit.Throttle
	Metrics  *metrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	renderer    *render.Renderer
	provider    email.Provider
	throttle    ratelimit.Throttle
	sendTimeout time.Duration
	log         *zap.Logger
	otel        *metrics.Metrics
}

func New(p Params) *Dispatcher {
	return NewDispatcher(p.Renderer, p.Provider, p.Throttle, p.Config.Scheduler.SendTimeout, p.Log, p.Metrics)
}

func NewDispatcher(renderer *render.Renderer, provider email.Provider, throttle ratelimit.Throttle, sendTimeout time.Duration, log *zap.Logger, otelMetrics *metrics.Metrics) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if throttle == nil {
		throttle = ratelimit.NewLocalThrottle(0, 1)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		renderer:    renderer,
		provider:    provider,
		throttle:    throttle,
		sendTimeout: sendTimeout,
		log:         log.Named("dispatch"),
		otel:        otelMetrics,
	}
}

// Preview renders the message a dispatch would send, without sending it.
func (d *Dispatcher) Preview(ctx context.Context, req Request) (render.Message, error) {
	return d.renderer.Render(ctx, req.Campaign, req.Candidate, req.Attempt, req.Sender)
}

// Dispatch renders and sends one notification. It never panics on transport
// failures; every error is returned inside the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (out Outcome) {
	ctx, span := tracing.Start(ctx, "dispatch.send",
		attribute.String("campaign", string(req.Campaign)),
		attribute.Int("attempt", req.Attempt),
		attribute.String("entity_id", req.Candidate.ID.String()),
	)
	defer func() { tracing.End(span, out.Err) }()

	out.Provider = d.provider.Name()

	msg, err := d.Preview(ctx, req)
	if err != nil {
		out.Stage, out.Err = StageRender, err
		return d.finish(ctx, req, out)
	}
	out.Subject = msg.Subject

	if err := d.throttle.Wait(ctx); err != nil {
		out.Stage, out.Err = StageThrottle, err
		return d.finish(ctx, req, out)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	started := time.Now()
	res, err := d.provider.Send(sendCtx, email.Message{
		To:       []string{req.Candidate.ContactEmail},
		Subject:  msg.Subject,
		HTML:     msg.HTML,
		FromName: req.Sender.FromName,
		ReplyTo:  req.Sender.ReplyTo,
	})
	metrics.Scheduler().ObserveSendDuration(string(req.Campaign), out.Provider, time.Since(started))
	if err != nil {
		out.Stage, out.Err = StageTransport, fmt.Errorf("%w: %w", domain.ErrTransport, err)
		return d.finish(ctx, req, out)
	}

	out.Sent = true
	out.MessageID = res.MessageID
	if res.Provider != "" {
		out.Provider = res.Provider
	}
	return d.finish(ctx, req, out)
}

func (d *Dispatcher) finish(ctx context.Context, req Request, out Outcome) Outcome {
	result := metrics.NotificationOutcomeSent
	if !out.Sent {
		result = metrics.NotificationOutcomeFailed
	}
	d.otel.RecordDispatch(ctx, string(req.Campaign), result, out.Provider, string(out.Stage))

	log := logger.WithContext(ctx, d.log).With(
		zap.String("campaign", string(req.Campaign)),
		zap.String("entity_id", req.Candidate.ID.String()),
		zap.Int("attempt", req.Attempt),
		zap.String("provider", out.Provider),
	)
	if out.Sent {
		log.Debug("dispatch.sent", zap.String("message_id", out.MessageID))
		return out
	}
	level := log.Warn
	if errors.Is(out.Err, context.Canceled) {
		level = log.Info
	}
	level("dispatch.failed", zap.String("stage", string(out.Stage)), zap.Error(tracing.SafeError(out.Err)))
	return out
}
