package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/notifier/internal/escalation"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CampaignConfig is the tunable part of one campaign.
type CampaignConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Thresholds     []int  `mapstructure:"thresholds"`
	MatchMode      string `mapstructure:"match_mode"`
	RecurEveryDays int    `mapstructure:"recur_every_days"`
}

type CampaignsConfig struct {
	OverdueInvoices  CampaignConfig `mapstructure:"overdue_invoices"`
	InactiveAccounts CampaignConfig `mapstructure:"inactive_accounts"`
}

type campaignFile struct {
	Campaigns CampaignsConfig `mapstructure:"campaigns"`
}

func DefaultCampaignsConfig() CampaignsConfig {
	return CampaignsConfig{
		OverdueInvoices: CampaignConfig{
			Enabled:    true,
			Thresholds: []int{1, 3, 7},
			MatchMode:  string(escalation.MatchExact),
		},
		InactiveAccounts: CampaignConfig{
			Enabled:        true,
			Thresholds:     []int{3, 5, 7, 30},
			MatchMode:      string(escalation.MatchExact),
			RecurEveryDays: 30,
		},
	}
}

// Policy builds the fixed-threshold policy for name.
func (c CampaignConfig) Policy(name string) (escalation.Policy, error) {
	mode, err := escalation.ParseMatchMode(c.MatchMode)
	if err != nil {
		return escalation.Policy{}, fmt.Errorf("campaigns.%s: %w", name, err)
	}
	p, err := escalation.NewPolicy(name, c.Thresholds, mode)
	if err != nil {
		return escalation.Policy{}, fmt.Errorf("campaigns.%s: %w", name, err)
	}
	return p, nil
}

// RecurringPolicy builds the policy with its recurrence, when configured.
func (c CampaignConfig) RecurringPolicy(name string) (escalation.RecurringPolicy, bool, error) {
	base, err := c.Policy(name)
	if err != nil {
		return escalation.RecurringPolicy{}, false, err
	}
	if c.RecurEveryDays <= 0 {
		return escalation.RecurringPolicy{Policy: base}, false, nil
	}
	p, err := escalation.NewRecurringPolicy(base, c.RecurEveryDays)
	if err != nil {
		return escalation.RecurringPolicy{}, false, fmt.Errorf("campaigns.%s: %w", name, err)
	}
	return p, true, nil
}

func validateCampaignsConfig(cfg CampaignsConfig) error {
	if _, err := cfg.OverdueInvoices.Policy("overdue_invoices"); err != nil {
		return err
	}
	if cfg.OverdueInvoices.RecurEveryDays != 0 {
		return errors.New("campaigns.overdue_invoices does not recur")
	}
	if _, _, err := cfg.InactiveAccounts.RecurringPolicy("inactive_accounts"); err != nil {
		return err
	}
	return nil
}

// CampaignConfigHolder serves the current campaigns.yml and swaps it on change.
type CampaignConfigHolder struct {
	current atomic.Value // holds CampaignsConfig
	v       *viper.Viper
	log     *zap.Logger
}

// NewCampaignConfigHolder reads campaigns.yml from NOTIFIER_CAMPAIGNS_FILE,
// /etc/notifier or the working directory, falling back to defaults.
func NewCampaignConfigHolder(log *zap.Logger) (*CampaignConfigHolder, error) {
	v := viper.New()
	if path := strings.TrimSpace(os.Getenv("NOTIFIER_CAMPAIGNS_FILE")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("campaigns")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/notifier")
		v.AddConfigPath(".")
	}
	return newCampaignConfigHolder(v, log, true)
}

// LoadCampaignConfigFile reads an explicit file; a missing file is an error.
func LoadCampaignConfigFile(path string, log *zap.Logger) (*CampaignConfigHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return newCampaignConfigHolder(v, log, false)
}

// NewStaticCampaignConfigHolder wraps a fixed config without any file.
func NewStaticCampaignConfigHolder(cfg CampaignsConfig) *CampaignConfigHolder {
	h := &CampaignConfigHolder{log: zap.NewNop()}
	h.current.Store(cfg)
	return h
}

func newCampaignConfigHolder(v *viper.Viper, log *zap.Logger, watch bool) (*CampaignConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.campaigns")

	v.SetEnvPrefix("NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setCampaignDefaults(v)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
		log.Info("campaigns.yml not found, using defaults")
	}

	cfg, err := decodeCampaigns(v)
	if err != nil {
		return nil, err
	}

	holder := &CampaignConfigHolder{v: v, log: log}
	holder.current.Store(cfg)

	if watch && found {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			holder.reload(e.Name)
		})
	}
	return holder, nil
}

func (h *CampaignConfigHolder) reload(source string) {
	updated, err := decodeCampaigns(h.v)
	if err != nil {
		h.log.Warn("campaigns reload ignored", zap.String("source", source), zap.Error(err))
		return
	}
	h.current.Store(updated)
	h.log.Info("campaigns reloaded", zap.String("source", source))
}

func (h *CampaignConfigHolder) Get() CampaignsConfig {
	return h.current.Load().(CampaignsConfig)
}

func setCampaignDefaults(v *viper.Viper) {
	defaults := DefaultCampaignsConfig()
	for key, c := range map[string]CampaignConfig{
		"overdue_invoices":  defaults.OverdueInvoices,
		"inactive_accounts": defaults.InactiveAccounts,
	} {
		prefix := "campaigns." + key + "."
		v.SetDefault(prefix+"enabled", c.Enabled)
		v.SetDefault(prefix+"thresholds", c.Thresholds)
		v.SetDefault(prefix+"match_mode", c.MatchMode)
		v.SetDefault(prefix+"recur_every_days", c.RecurEveryDays)
	}
}

func decodeCampaigns(v *viper.Viper) (CampaignsConfig, error) {
	var file campaignFile
	if err := v.Unmarshal(&file); err != nil {
		return CampaignsConfig{}, err
	}
	if err := validateCampaignsConfig(file.Campaigns); err != nil {
		return CampaignsConfig{}, err
	}
	return file.Campaigns, nil
}
