package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/notifier/internal/escalation"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeCampaignFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "campaigns.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write campaigns.yml: %v", err)
	}
	return path
}

func TestCampaignHolderDefaultsWhenFileMissing(t *testing.T) {
	v := viper.New()
	v.SetConfigName("campaigns")
	v.SetConfigType("yml")
	v.AddConfigPath(t.TempDir())

	holder, err := newCampaignConfigHolder(v, zaptest.NewLogger(t), false)
	require.NoError(t, err)

	assert.Equal(t, DefaultCampaignsConfig(), holder.Get())
}

func TestCampaignHolderReadsFileAndKeepsDefaults(t *testing.T) {
	path := writeCampaignFile(t, t.TempDir(), `
campaigns:
  overdue_invoices:
    thresholds: [2, 4, 8]
    match_mode: catch_up
  inactive_accounts:
    enabled: false
`)

	holder, err := LoadCampaignConfigFile(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	cfg := holder.Get()

	assert.True(t, cfg.OverdueInvoices.Enabled)
	assert.Equal(t, []int{2, 4, 8}, cfg.OverdueInvoices.Thresholds)
	assert.Equal(t, "catch_up", cfg.OverdueInvoices.MatchMode)

	assert.False(t, cfg.InactiveAccounts.Enabled)
	assert.Equal(t, []int{3, 5, 7, 30}, cfg.InactiveAccounts.Thresholds)
	assert.Equal(t, 30, cfg.InactiveAccounts.RecurEveryDays)

	p, err := cfg.OverdueInvoices.Policy("overdue_invoices")
	require.NoError(t, err)
	assert.Equal(t, escalation.MatchCatchUp, p.Mode())
}

func TestCampaignHolderRejectsInvalidThresholds(t *testing.T) {
	path := writeCampaignFile(t, t.TempDir(), `
campaigns:
  overdue_invoices:
    thresholds: [7, 3, 1]
`)

	_, err := LoadCampaignConfigFile(path, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, escalation.ErrThresholdsNotIncreasing)
}

func TestCampaignHolderMissingExplicitFile(t *testing.T) {
	_, err := LoadCampaignConfigFile(filepath.Join(t.TempDir(), "nope.yml"), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestCampaignHolderReloadIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeCampaignFile(t, dir, `
campaigns:
  overdue_invoices:
    thresholds: [1, 3, 7]
`)
	holder, err := LoadCampaignConfigFile(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	writeCampaignFile(t, dir, `
campaigns:
  overdue_invoices:
    thresholds: [1, 2, 5, 10]
`)
	require.NoError(t, holder.v.ReadInConfig())
	holder.reload(path)
	assert.Equal(t, []int{1, 2, 5, 10}, holder.Get().OverdueInvoices.Thresholds)

	writeCampaignFile(t, dir, `
campaigns:
  overdue_invoices:
    thresholds: []
`)
	require.NoError(t, holder.v.ReadInConfig())
	holder.reload(path)
	assert.Equal(t, []int{1, 2, 5, 10}, holder.Get().OverdueInvoices.Thresholds)
}

func TestRecurringPolicyFromConfig(t *testing.T) {
	cfg := DefaultCampaignsConfig()

	p, recurs, err := cfg.InactiveAccounts.RecurringPolicy("inactive_accounts")
	require.NoError(t, err)
	assert.True(t, recurs)
	assert.Equal(t, 30, p.Recurrence().EveryDays)

	_, recurs, err = cfg.OverdueInvoices.RecurringPolicy("overdue_invoices")
	require.NoError(t, err)
	assert.False(t, recurs)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_BASE_URL", "https://app.example.com/")
	t.Setenv("NOTIFIER_SEND_TIMEOUT", "3s")
	t.Setenv("NOTIFIER_ENABLED_CAMPAIGNS", "overdue_invoices, ,inactive_accounts")
	t.Setenv("NOTIFIER_TENANT_CONCURRENCY", "not-a-number")

	cfg := Load()
	assert.Equal(t, "https://app.example.com", cfg.BaseURL)
	assert.Equal(t, "3s", cfg.Scheduler.SendTimeout.String())
	assert.Equal(t, []string{"overdue_invoices", "inactive_accounts"}, cfg.Scheduler.EnabledCampaigns)
	assert.Equal(t, 1, cfg.Scheduler.TenantConcurrency)
}

func TestLoadReadsTelemetry(t *testing.T) {
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")
	t.Setenv("OTEL_ENABLED", "off")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("NOTIFIER_AUTO_MIGRATE", "yes")

	cfg := Load()
	assert.False(t, cfg.Telemetry.OtelEnabled)
	assert.Equal(t, "http", cfg.Telemetry.OTLPProtocol)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.InDelta(t, 0.5, cfg.Telemetry.SamplingRatio, 0.0001)
	assert.True(t, cfg.AutoMigrate)
}
