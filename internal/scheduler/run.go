package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/config"
	"github.com/smallbiznis/notifier/internal/notification/domain"
)

// CampaignSummary holds the counters of one campaign within a run.
type CampaignSummary struct {
	TenantsChecked      int            `json:"tenants_checked"`
	TenantsFailed       int            `json:"tenants_failed"`
	NotificationsSent   int            `json:"notifications_sent"`
	NotificationsFailed int            `json:"notifications_failed"`
	Skipped             map[string]int `json:"skipped,omitempty"`
	StepConflicts       int            `json:"step_conflicts"`
}

// Summary is what a run reports when it returns. Locked is set when another
// run held the run lock and nothing was processed. TenantsChecked counts
// distinct organizations; the per-campaign summaries count each campaign's
// own checks.
type Summary struct {
	RunID               string                     `json:"run_id"`
	StartedAt           time.Time                  `json:"started_at"`
	Locked              bool                       `json:"locked"`
	TenantsChecked      int                        `json:"tenants_checked"`
	NotificationsSent   int                        `json:"notifications_sent"`
	NotificationsFailed int                        `json:"notifications_failed"`
	Skipped             map[string]int             `json:"skipped,omitempty"`
	Campaigns           map[string]CampaignSummary `json:"campaigns,omitempty"`
	Duration            time.Duration              `json:"duration"`
}

// RunContext carries the state of one run down the call chain. A fresh one
// is built for every run, so nothing it memoizes outlives the run.
type RunContext struct {
	RunID     string
	Now       time.Time
	Campaigns config.CampaignsConfig

	mu        sync.Mutex
	senders   map[snowflake.ID]domain.SenderProfile
	campaigns map[domain.Campaign]*CampaignSummary
	checked   map[snowflake.ID]struct{}
}

func NewRunContext(runID string, now time.Time, campaigns config.CampaignsConfig) *RunContext {
	return &RunContext{
		RunID:     runID,
		Now:       now,
		Campaigns: campaigns,
		senders:   make(map[snowflake.ID]domain.SenderProfile),
		campaigns: make(map[domain.Campaign]*CampaignSummary),
		checked:   make(map[snowflake.ID]struct{}),
	}
}

// Sender returns the tenant's sender profile, loading it at most once per run.
func (rc *RunContext) Sender(ctx context.Context, repo domain.Repository, orgID snowflake.ID) (domain.SenderProfile, error) {
	rc.mu.Lock()
	profile, ok := rc.senders[orgID]
	rc.mu.Unlock()
	if ok {
		return profile, nil
	}

	profile, err := repo.GetSenderProfile(ctx, orgID)
	if err != nil {
		return domain.SenderProfile{}, err
	}

	rc.mu.Lock()
	rc.senders[orgID] = profile
	rc.mu.Unlock()
	return profile, nil
}

// must be called with mu held
func (rc *RunContext) campaign(c domain.Campaign) *CampaignSummary {
	s, ok := rc.campaigns[c]
	if !ok {
		s = &CampaignSummary{Skipped: map[string]int{}}
		rc.campaigns[c] = s
	}
	return s
}

func (rc *RunContext) update(c domain.Campaign, fn func(*CampaignSummary)) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	fn(rc.campaign(c))
}

func (rc *RunContext) tenantChecked(c domain.Campaign, orgID snowflake.ID) {
	rc.update(c, func(s *CampaignSummary) {
		s.TenantsChecked++
		rc.checked[orgID] = struct{}{}
	})
}

func (rc *RunContext) tenantFailed(c domain.Campaign) {
	rc.update(c, func(s *CampaignSummary) { s.TenantsFailed++ })
}

func (rc *RunContext) sent(c domain.Campaign) {
	rc.update(c, func(s *CampaignSummary) { s.NotificationsSent++ })
}

func (rc *RunContext) failed(c domain.Campaign) {
	rc.update(c, func(s *CampaignSummary) { s.NotificationsFailed++ })
}

func (rc *RunContext) skipped(c domain.Campaign, reason string) {
	rc.update(c, func(s *CampaignSummary) { s.Skipped[reason]++ })
}

func (rc *RunContext) conflict(c domain.Campaign) {
	rc.update(c, func(s *CampaignSummary) { s.StepConflicts++ })
}

// Summary folds the per-campaign counters into run totals.
func (rc *RunContext) Summary() Summary {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	out := Summary{
		RunID:          rc.RunID,
		StartedAt:      rc.Now,
		Skipped:        map[string]int{},
		Campaigns:      make(map[string]CampaignSummary, len(rc.campaigns)),
		TenantsChecked: len(rc.checked),
	}
	for name, s := range rc.campaigns {
		copied := *s
		copied.Skipped = make(map[string]int, len(s.Skipped))
		for reason, n := range s.Skipped {
			copied.Skipped[reason] = n
			out.Skipped[reason] += n
		}
		out.Campaigns[string(name)] = copied
		out.NotificationsSent += s.NotificationsSent
		out.NotificationsFailed += s.NotificationsFailed
	}
	return out
}
