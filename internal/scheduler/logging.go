package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/notifier/internal/observability/context"
	obslogger "github.com/smallbiznis/notifier/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/notifier/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun counts what one campaign job did. Tenants update it concurrently.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time

	processed atomic.Int64
	failures  atomic.Int64
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processed.Add(int64(count))
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.failures.Add(1)
}

func (r *jobRun) Errors() int {
	if r == nil {
		return 0
	}
	return int(r.failures.Load())
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	runID := obscontext.RunIDFromContext(ctx)
	if runID == "" {
		runID = s.genID.Generate().String()
		ctx = obscontext.WithRunID(ctx, runID)
	}
	run := &jobRun{
		job:       job,
		runID:     runID,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = s.withLogContext(ctx, 0)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) withLogContext(ctx context.Context, orgID snowflake.ID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	if orgID != 0 {
		ctx = obscontext.WithOrgID(ctx, orgID.String())
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	failures := run.Errors()
	log := s.logger(ctx).With(
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
	fields := []zap.Field{
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int64("processed_count", run.processed.Load()),
		zap.Int("error_count", failures),
	}
	if failures > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, job string, orgID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	if run != nil {
		run.IncError()
	}
	ctx = s.withLogContext(ctx, orgID)
	errorType := obsmetrics.ClassifySchedulerErrorType(err)
	retryable := obsmetrics.IsSchedulerErrorRetryable(err)
	baseFields := []zap.Field{
		zap.String("job", job),
		zap.String("org_id", idString(orgID)),
		zap.String("error_type", errorType),
		zap.String("error", err.Error()),
		zap.Bool("retryable", retryable),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
