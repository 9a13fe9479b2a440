package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	notificationdomain "github.com/smallbiznis/notifier/internal/notification/domain"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeTransport        = "transport"
	SchedulerErrorTypeRender           = "render"
	SchedulerErrorTypeConflict         = "conflict"
	SchedulerErrorTypeConfig           = "config"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonMissingBaseURL       = "missing_base_url"
	SchedulerJobReasonUnknown              = "unknown"
)

const (
	RunResultCompleted = "completed"
	RunResultLocked    = "skipped_locked"
	RunResultAborted   = "aborted"
)

const (
	NotificationOutcomeSent   = "sent"
	NotificationOutcomeFailed = "failed"
)

// SchedulerMetrics captures notification scheduler health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	runLoopLag     prometheus.Observer
	runs           *prometheus.CounterVec
	tenantsChecked *prometheus.CounterVec
	tenantErrors   *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	skips          *prometheus.CounterVec
	stepConflicts  *prometheus.CounterVec
	sendDuration   *prometheus.HistogramVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "notifier"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "notifier_scheduler_job_duration_seconds",
			Help:        "Campaign job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_scheduler_job_timeouts_total",
			Help:        "Campaign jobs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "notifier_scheduler_runloop_lag_seconds",
			Help:        "Scheduler run loop lag beyond the configured interval.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_scheduler_runs_total",
			Help:        "Batch runs by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		tenantsChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_tenants_checked_total",
			Help:        "Tenants evaluated per campaign.",
			ConstLabels: constLabels,
		}, []string{"campaign"}),
		tenantErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_tenant_errors_total",
			Help:        "Tenants skipped because selection failed.",
			ConstLabels: constLabels,
		}, []string{"campaign", "error_type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_notifications_total",
			Help:        "Dispatch attempts by campaign and outcome.",
			ConstLabels: constLabels,
		}, []string{"campaign", "outcome"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_notifications_skipped_total",
			Help:        "Entities skipped by reason.",
			ConstLabels: constLabels,
		}, []string{"campaign", "reason"}),
		stepConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifier_step_conflicts_total",
			Help:        "Conditional step writes rejected because another run advanced the entity.",
			ConstLabels: constLabels,
		}, []string{"campaign"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "notifier_send_duration_seconds",
			Help:        "Transport call latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			ConstLabels: constLabels,
		}, []string{"campaign", "provider"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.runLoopLag.(prometheus.Histogram),
		m.runs,
		m.tenantsChecked,
		m.tenantErrors,
		m.notifications,
		m.skips,
		m.stepConflicts,
		m.sendDuration,
	)
	return m
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncRun(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

func (m *SchedulerMetrics) IncTenantChecked(campaign string) {
	if m == nil {
		return
	}
	m.tenantsChecked.WithLabelValues(campaign).Inc()
}

func (m *SchedulerMetrics) IncTenantError(campaign string, err error) {
	if m == nil || err == nil {
		return
	}
	m.tenantErrors.WithLabelValues(campaign, ClassifySchedulerErrorType(err)).Inc()
}

func (m *SchedulerMetrics) IncNotification(campaign, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(campaign, outcome).Inc()
}

func (m *SchedulerMetrics) IncSkipped(campaign, reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(campaign, reason).Inc()
}

func (m *SchedulerMetrics) IncStepConflict(campaign string) {
	if m == nil {
		return
	}
	m.stepConflicts.WithLabelValues(campaign).Inc()
}

func (m *SchedulerMetrics) ObserveSendDuration(campaign, provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(campaign, provider).Observe(duration.Seconds())
}

// ClassifySchedulerErrorType returns a low-cardinality error type for logging.
func ClassifySchedulerErrorType(err error) string {
	switch {
	case err == nil:
		return SchedulerErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SchedulerErrorTypeDeadlineExceeded
	case errors.Is(err, notificationdomain.ErrStepConflict):
		return SchedulerErrorTypeConflict
	case errors.Is(err, notificationdomain.ErrMissingBaseURL):
		return SchedulerErrorTypeConfig
	case errors.Is(err, notificationdomain.ErrRender):
		return SchedulerErrorTypeRender
	case errors.Is(err, notificationdomain.ErrTransport):
		return SchedulerErrorTypeTransport
	case isDBError(err):
		return SchedulerErrorTypeDB
	default:
		return SchedulerErrorTypeBusinessRule
	}
}

// IsSchedulerErrorRetryable reports whether the next run can be expected to succeed.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, notificationdomain.ErrTransport) {
		return true
	}
	return isDBError(err)
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, notificationdomain.ErrMissingBaseURL):
		return SchedulerJobReasonMissingBaseURL
	case hasPGCode(err, "55P03"):
		return SchedulerJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SchedulerJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return SchedulerJobReasonUniqueViolation
	default:
		return SchedulerJobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	return errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, notificationdomain.ErrStore)
}
