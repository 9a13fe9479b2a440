package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/notifier/internal/audit/domain"
	"github.com/smallbiznis/notifier/internal/clock"
	"github.com/smallbiznis/notifier/internal/config"
	"github.com/smallbiznis/notifier/internal/notification/dispatch"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	obscontext "github.com/smallbiznis/notifier/internal/observability/context"
	obsmetrics "github.com/smallbiznis/notifier/internal/observability/metrics"
	"github.com/smallbiznis/notifier/internal/observability/tracing"
	"github.com/smallbiznis/notifier/internal/ratelimit"
	"github.com/smallbiznis/notifier/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

const runLockKey = "notifier:run"

// Dispatcher renders and sends one notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Outcome
}

type Params struct {
	fx.In

	Config     Config `optional:"true"`
	Log        *zap.Logger
	Repo       domain.Repository
	Dispatcher Dispatcher
	AuditSvc   auditdomain.Service
	Campaigns  *config.CampaignConfigHolder
	Lock       ratelimit.RunLock
	GenID      *snowflake.Node
	Clock      clock.Clock
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	repo       domain.Repository
	dispatcher Dispatcher
	auditSvc   auditdomain.Service
	campaigns  *config.CampaignConfigHolder
	lock       ratelimit.RunLock
	genID      *snowflake.Node
	clock      clock.Clock
	resolver   *clock.Resolver
	metrics    *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Repo == nil || p.Dispatcher == nil || p.AuditSvc == nil || p.Campaigns == nil || p.Lock == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		repo:       p.Repo,
		dispatcher: p.Dispatcher,
		auditSvc:   p.AuditSvc,
		campaigns:  p.Campaigns,
		lock:       p.Lock,
		genID:      p.GenID,
		clock:      p.Clock,
		resolver:   clock.NewResolver(cfg.DefaultTimezone),
		metrics:    p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.Errors() == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs one batch over every enabled campaign. A missing base URL
// aborts the run before anything is touched; every other failure is
// contained to its tenant or entity and reported through the summary, the
// notification log and the returned error.
func (s *Scheduler) RunOnce(parent context.Context) (Summary, error) {
	schedMetrics := obsmetrics.Scheduler()
	if s.cfg.BaseURL == "" {
		schedMetrics.IncRun(obsmetrics.RunResultAborted)
		s.log.Error("scheduler.run.aborted", zap.Error(domain.ErrMissingBaseURL))
		return Summary{}, domain.ErrMissingBaseURL
	}

	runID := s.genID.Generate().String()
	ctx := obscontext.WithRunID(parent, runID)
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx, span := tracing.Start(ctx, "scheduler.run", attribute.String("run_id", runID))

	token, ok, err := s.lock.TryLock(ctx, runLockKey, s.cfg.LockTTL)
	if err != nil {
		schedMetrics.IncRun(obsmetrics.RunResultAborted)
		err = fmt.Errorf("acquire run lock: %w", err)
		tracing.End(span, err)
		return Summary{RunID: runID}, err
	}
	if !ok {
		schedMetrics.IncRun(obsmetrics.RunResultLocked)
		s.metrics.RecordLockContention(ctx, s.lock.Backend())
		s.logger(ctx).Info("scheduler.run.locked", zap.String("backend", s.lock.Backend()))
		tracing.End(span, nil)
		return Summary{RunID: runID, StartedAt: s.clock.Now(), Locked: true}, nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), runLockKey, token); err != nil {
			s.logger(ctx).Warn("scheduler.run.unlock_failed", zap.Error(err))
		}
	}()

	rc := NewRunContext(runID, s.clock.Now(), s.campaigns.Get())

	jobs := []struct {
		Campaign domain.Campaign
		Run      func(context.Context) error
	}{
		{domain.CampaignOverdueInvoices, func(ctx context.Context) error {
			return s.runOverdueInvoices(ctx, rc)
		}},
		{domain.CampaignInactiveAccounts, func(ctx context.Context) error {
			return s.runInactiveAccounts(ctx, rc)
		}},
	}

	var runErr error
	for _, job := range jobs {
		if !s.isCampaignEnabled(rc, job.Campaign) {
			continue
		}
		campaignCtx := obscontext.WithCampaign(ctx, string(job.Campaign))
		runErr = errors.Join(runErr, s.runJob(campaignCtx, string(job.Campaign), s.cfg.CampaignTimeout, job.Run))
	}

	summary := rc.Summary()
	summary.Duration = s.clock.Now().Sub(rc.Now)
	schedMetrics.IncRun(obsmetrics.RunResultCompleted)

	s.logger(ctx).Info("scheduler.run.finish",
		zap.Int("tenants_checked", summary.TenantsChecked),
		zap.Int("notifications_sent", summary.NotificationsSent),
		zap.Int("notifications_failed", summary.NotificationsFailed),
		zap.Duration("duration", summary.Duration),
	)
	tracing.End(span, runErr)
	return summary, runErr
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// isCampaignEnabled checks campaigns.yml and then NOTIFIER_ENABLED_CAMPAIGNS.
// An empty list enables every campaign.
func (s *Scheduler) isCampaignEnabled(rc *RunContext, campaign domain.Campaign) bool {
	switch campaign {
	case domain.CampaignOverdueInvoices:
		if !rc.Campaigns.OverdueInvoices.Enabled {
			return false
		}
	case domain.CampaignInactiveAccounts:
		if !rc.Campaigns.InactiveAccounts.Enabled {
			return false
		}
	}
	if len(s.cfg.EnabledCampaigns) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledCampaigns {
		if strings.EqualFold(enabled, string(campaign)) {
			return true
		}
	}
	return false
}
