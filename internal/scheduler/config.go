package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/notifier/internal/config"
)

// Config controls run cadence, per-campaign deadlines and tenant fan-out.
type Config struct {
	BaseURL           string
	DefaultTimezone   string
	RunInterval       time.Duration
	CampaignTimeout   time.Duration
	TenantConcurrency int
	LockTTL           time.Duration
	EnabledCampaigns  []string
}

func DefaultConfig() Config {
	return Config{
		DefaultTimezone:   "UTC",
		RunInterval:       time.Hour,
		CampaignTimeout:   10 * time.Minute,
		TenantConcurrency: 1,
		LockTTL:           30 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	sched := cfg.Scheduler
	return Config{
		BaseURL:           cfg.BaseURL,
		DefaultTimezone:   cfg.DefaultTimezone,
		RunInterval:       sched.RunInterval,
		CampaignTimeout:   sched.CampaignTimeout,
		TenantConcurrency: sched.TenantConcurrency,
		LockTTL:           sched.LockTTL,
		EnabledCampaigns:  sched.EnabledCampaigns,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if strings.TrimSpace(c.DefaultTimezone) == "" {
		c.DefaultTimezone = defaults.DefaultTimezone
	}
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.CampaignTimeout <= 0 {
		c.CampaignTimeout = defaults.CampaignTimeout
	}
	if c.TenantConcurrency <= 0 {
		c.TenantConcurrency = defaults.TenantConcurrency
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
