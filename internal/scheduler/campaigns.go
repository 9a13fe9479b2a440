package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "github.com/smallbiznis/notifier/internal/audit/domain"
	"github.com/smallbiznis/notifier/internal/clock"
	"github.com/smallbiznis/notifier/internal/escalation"
	"github.com/smallbiznis/notifier/internal/notification/dispatch"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	obscontext "github.com/smallbiznis/notifier/internal/observability/context"
	obsmetrics "github.com/smallbiznis/notifier/internal/observability/metrics"
	"github.com/smallbiznis/notifier/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const skipReasonConcurrentUpdate = "concurrent_update"

// tenantScope is what a campaign sees of one tenant during a run.
type tenantScope struct {
	Tenant   domain.TenantPolicy
	Location *time.Location
	Today    clock.Date
}

// notifiedBefore is the start of the tenant's current day. Entities sent at
// or after it already moved a step today.
func (t tenantScope) notifiedBefore() time.Time {
	return t.Today.StartIn(t.Location)
}

type commitFunc func(ctx context.Context, sentAt time.Time) error

func (s *Scheduler) runOverdueInvoices(ctx context.Context, rc *RunContext) error {
	campaign := domain.CampaignOverdueInvoices
	policy, err := rc.Campaigns.OverdueInvoices.Policy(string(campaign))
	if err != nil {
		return err
	}

	return s.forEachTenant(ctx, rc, campaign, func(ctx context.Context, scope tenantScope) error {
		orgID := scope.Tenant.OrgID
		var (
			candidates []domain.Candidate
			err        error
		)
		if policy.Mode() == escalation.MatchCatchUp {
			firstThreshold, _ := policy.ThresholdFor(0)
			candidates, err = s.repo.ListOverdueInvoicesSince(ctx, orgID, scope.Today.AddDays(-firstThreshold), policy.Len(), scope.notifiedBefore())
		} else {
			candidates, err = s.repo.ListOverdueInvoices(ctx, orgID, policy.ThresholdDates(scope.Today), policy.Len(), scope.notifiedBefore())
		}
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		sender, err := rc.Sender(ctx, s.repo, orgID)
		if err != nil {
			return fmt.Errorf("load sender profile: %w", err)
		}

		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			d := escalation.Decide(policy, escalation.Subject{
				Step:    c.Step,
				AgeDays: c.AgeDays(scope.Today),
				Contact: c.ContactEmail,
			})
			candidate := c
			s.notify(ctx, rc, campaign, candidate, d, sender, func(ctx context.Context, sentAt time.Time) error {
				return s.repo.AdvanceInvoiceStep(ctx, candidate.ID, candidate.Step, sentAt)
			})
		}
		return nil
	})
}

func (s *Scheduler) runInactiveAccounts(ctx context.Context, rc *RunContext) error {
	campaign := domain.CampaignInactiveAccounts
	policy, recurs, err := rc.Campaigns.InactiveAccounts.RecurringPolicy(string(campaign))
	if err != nil {
		return err
	}

	return s.forEachTenant(ctx, rc, campaign, func(ctx context.Context, scope tenantScope) error {
		orgID := scope.Tenant.OrgID

		account, err := s.repo.FindInactiveAccount(ctx, orgID, policy.Len(), scope.notifiedBefore())
		if err != nil {
			return err
		}
		if account != nil {
			account.AnchorDate = clock.LocalDate(account.AnchorAt, scope.Location)
			if policy.Selects(account.AgeDays(scope.Today)) {
				sender, err := rc.Sender(ctx, s.repo, orgID)
				if err != nil {
					return fmt.Errorf("load sender profile: %w", err)
				}
				d := escalation.Decide(policy.Policy, escalation.Subject{
					Step:    account.Step,
					AgeDays: account.AgeDays(scope.Today),
					Contact: account.ContactEmail,
				})
				candidate := *account
				s.notify(ctx, rc, campaign, candidate, d, sender, func(ctx context.Context, sentAt time.Time) error {
					return s.repo.AdvanceAccountStep(ctx, candidate.ID, candidate.Step, sentAt)
				})
			}
		}

		if !recurs {
			return nil
		}
		sentBefore := policy.Recurrence().SentBefore(rc.Now)
		recurring, err := s.repo.ListRecurringAccounts(ctx, orgID, policy.RecurringStep(), sentBefore)
		if err != nil {
			return err
		}
		if len(recurring) == 0 {
			return nil
		}
		sender, err := rc.Sender(ctx, s.repo, orgID)
		if err != nil {
			return fmt.Errorf("load sender profile: %w", err)
		}
		for _, c := range recurring {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.AnchorDate = clock.LocalDate(c.AnchorAt, scope.Location)
			d := escalation.DecideRecurring(policy, escalation.RecurringSubject{
				Step:       c.Step,
				LastSentAt: c.LastSentAt,
				Contact:    c.ContactEmail,
			}, rc.Now)
			candidate := c
			s.notify(ctx, rc, campaign, candidate, d, sender, func(ctx context.Context, sentAt time.Time) error {
				return s.repo.TouchAccountRecurrence(ctx, candidate.ID, candidate.Step, sentBefore, sentAt)
			})
		}
		return nil
	})
}

// forEachTenant runs fn for every tenant with the campaign enabled. A
// failing tenant is recorded and does not stop the others; only a failure
// to list tenants fails the campaign.
func (s *Scheduler) forEachTenant(ctx context.Context, rc *RunContext, campaign domain.Campaign, fn func(context.Context, tenantScope) error) error {
	tenants, err := s.repo.ListTenants(ctx, campaign)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.TenantConcurrency)
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			break
		}
		tenant := tenant
		g.Go(func() error {
			s.processTenant(ctx, rc, campaign, tenant, fn)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (s *Scheduler) processTenant(ctx context.Context, rc *RunContext, campaign domain.Campaign, tenant domain.TenantPolicy, fn func(context.Context, tenantScope) error) {
	ctx = obscontext.WithOrgID(ctx, tenant.OrgID.String())
	ctx, span := tracing.Start(ctx, "scheduler.tenant",
		attribute.String("campaign", string(campaign)),
		attribute.String("org_id", tenant.OrgID.String()),
	)

	loc, fellBack := s.resolver.Resolve(tenant.Timezone)
	if fellBack {
		s.logger(ctx).Warn("scheduler.tenant.timezone_fallback",
			zap.String("timezone", tenant.Timezone),
			zap.String("fallback", loc.String()),
		)
		s.metrics.RecordTimezoneFallback(ctx, string(campaign))
	}
	scope := tenantScope{
		Tenant:   tenant,
		Location: loc,
		Today:    clock.LocalDate(rc.Now, loc),
	}

	rc.tenantChecked(campaign, tenant.OrgID)
	obsmetrics.Scheduler().IncTenantChecked(string(campaign))

	err := fn(ctx, scope)
	tracing.End(span, err)
	if err == nil {
		return
	}

	rc.tenantFailed(campaign)
	obsmetrics.Scheduler().IncTenantError(string(campaign), err)
	s.record(context.WithoutCancel(ctx), auditdomain.Entry{
		OrgID:      tenant.OrgID,
		EntityType: "tenant",
		Campaign:   string(campaign),
		Status:     auditdomain.StatusFailed,
		Message:    "tenant processing failed",
		Error:      err.Error(),
	})
	s.logSchedulerError(ctx, jobRunFromContext(ctx), "scheduler.tenant.failed", string(campaign), tenant.OrgID, err)
}

// notify carries one decision through to the notification log. The step is
// committed only after the provider accepted the message.
func (s *Scheduler) notify(ctx context.Context, rc *RunContext, campaign domain.Campaign, c domain.Candidate, d escalation.Decision, sender domain.SenderProfile, commit commitFunc) {
	schedMetrics := obsmetrics.Scheduler()
	run := jobRunFromContext(ctx)
	run.AddProcessed(1)

	entityID := c.ID
	base := auditdomain.Entry{
		OrgID:      c.OrgID,
		EntityType: string(c.Kind),
		EntityID:   &entityID,
		Campaign:   string(campaign),
		Attempt:    d.Attempt,
	}

	if !d.Proceed() {
		reason := string(d.Outcome)
		entry := base
		entry.Status = auditdomain.StatusSkipped
		entry.Message = d.Reason
		entry.Metadata = map[string]any{"reason": reason, "step": c.Step}
		s.record(ctx, entry)
		rc.skipped(campaign, reason)
		schedMetrics.IncSkipped(string(campaign), reason)
		return
	}

	meta := map[string]any{
		"threshold": d.Threshold,
		"step":      c.Step,
		"to":        c.ContactEmail,
	}
	queued := base
	queued.Status = auditdomain.StatusQueued
	queued.Metadata = meta
	s.record(ctx, queued)

	attempted := base
	attempted.Status = auditdomain.StatusAttempted
	s.record(ctx, attempted)

	outcome := s.dispatcher.Dispatch(ctx, dispatch.Request{
		Campaign:  campaign,
		Candidate: c,
		Attempt:   d.Attempt,
		Sender:    sender,
	})

	// The message may already be out; bookkeeping must not be cut short.
	bctx := context.WithoutCancel(ctx)

	if !outcome.Sent {
		failed := base
		failed.Status = auditdomain.StatusFailed
		failed.Message = outcome.Subject
		failed.Error = outcome.Err.Error()
		failed.Metadata = map[string]any{
			"stage":    string(outcome.Stage),
			"provider": outcome.Provider,
		}
		s.record(bctx, failed)
		rc.failed(campaign)
		schedMetrics.IncNotification(string(campaign), obsmetrics.NotificationOutcomeFailed)
		s.logSchedulerError(ctx, run, "notification.failed", string(campaign), c.OrgID, outcome.Err,
			zap.String("entity_id", idString(c.ID)),
			zap.Int("attempt", d.Attempt),
		)
		return
	}

	success := base
	success.Status = auditdomain.StatusSuccess
	success.Message = outcome.Subject
	success.Metadata = map[string]any{
		"message_id": outcome.MessageID,
		"provider":   outcome.Provider,
	}
	s.record(bctx, success)
	rc.sent(campaign)
	schedMetrics.IncNotification(string(campaign), obsmetrics.NotificationOutcomeSent)

	err := commit(bctx, s.clock.Now())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStepConflict):
		conflict := base
		conflict.Status = auditdomain.StatusSkipped
		conflict.Message = "concurrent update"
		conflict.Metadata = map[string]any{"reason": skipReasonConcurrentUpdate, "step": c.Step}
		s.record(bctx, conflict)
		rc.conflict(campaign)
		rc.skipped(campaign, skipReasonConcurrentUpdate)
		schedMetrics.IncStepConflict(string(campaign))
		s.logger(ctx).Warn("scheduler.step.conflict",
			zap.String("entity_id", idString(c.ID)),
			zap.Int("step", c.Step),
		)
	default:
		commitFailed := base
		commitFailed.Status = auditdomain.StatusFailed
		commitFailed.Message = "step commit failed"
		commitFailed.Error = err.Error()
		commitFailed.Metadata = map[string]any{
			"stage":        "commit",
			"step":         c.Step,
			"message_id":   outcome.MessageID,
			"commit_error": err.Error(),
		}
		s.record(bctx, commitFailed)
		s.logSchedulerError(ctx, run, "scheduler.step.commit_failed", string(campaign), c.OrgID, err,
			zap.String("entity_id", idString(c.ID)),
			zap.Int("step", c.Step),
		)
	}
}

// record writes to the notification log. The audit service logs its own
// failures, so errors stop here.
func (s *Scheduler) record(ctx context.Context, entry auditdomain.Entry) {
	_ = s.auditSvc.Record(ctx, entry)
}
