package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTLP-exported counters. The Prometheus scheduler
// collectors live in SchedulerMetrics. A nil *Metrics records nothing.
type Metrics struct {
	dispatches        metric.Int64Counter
	auditFailures     metric.Int64Counter
	lockContention    metric.Int64Counter
	timezoneFallbacks metric.Int64Counter
}

// NewProvider returns a no-op provider when OTLP export is disabled.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName(cfg)),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		)),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Named("metrics").Info("otlp metrics enabled",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

const exportInterval = 10 * time.Second

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(serviceName(cfg))

	var (
		m    Metrics
		errs []error
	)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{event}"))
		errs = append(errs, err)
		return c
	}
	m.dispatches = counter("notifier_dispatch_total", "Notifications handed to a transport, by outcome and stage.")
	m.auditFailures = counter("notifier_audit_write_failures_total", "Notification log rows that could not be written.")
	m.lockContention = counter("notifier_run_lock_contention_total", "Runs skipped because another instance held the run lock.")
	m.timezoneFallbacks = counter("notifier_timezone_fallback_total", "Tenants whose timezone could not be loaded.")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordDispatch counts one dispatch. stage is empty for successful sends.
func (m *Metrics) RecordDispatch(ctx context.Context, campaign, outcome, provider, stage string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("campaign", campaign),
		attribute.String("outcome", outcome),
		attribute.String("provider", provider),
	}
	if stage != "" {
		attrs = append(attrs, attribute.String("stage", stage))
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func (m *Metrics) RecordAuditFailure(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.auditFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordLockContention(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.lockContention.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *Metrics) RecordTimezoneFallback(ctx context.Context, campaign string) {
	if m == nil {
		return
	}
	m.timezoneFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("campaign", campaign)))
}

func serviceName(cfg Config) string {
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		return name
	}
	return "notifier"
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"campaign": {},
	"outcome":  {},
	"provider": {},
	"status":   {},
	"backend":  {},
	"reason":   {},
	"stage":    {},
}

// FilterAttributes drops every label outside the fixed low-cardinality set.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
