package metrics

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ServiceName      string
	Environment      string
}

// Metrics exposes the pipeline's instruments. All methods are nil-safe so
// callers never need to guard.
type Metrics struct {
	eventsIngested  metric.Int64Counter
	recordsSettled  metric.Int64Counter
	quotaRejections metric.Int64Counter
	settleDuration  metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := otlpmetricgrpc.New(
		context.Background(),
		otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized", zap.String("endpoint", cfg.ExporterEndpoint))
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tallyline"
	}
	meter := provider.Meter(name)

	eventsIngested, err := meter.Int64Counter("tallyline_usage_events_total")
	if err != nil {
		return nil, err
	}
	recordsSettled, err := meter.Int64Counter("tallyline_records_settled_total")
	if err != nil {
		return nil, err
	}
	quotaRejections, err := meter.Int64Counter("tallyline_quota_rejections_total")
	if err != nil {
		return nil, err
	}
	settleDuration, err := meter.Float64Histogram("tallyline_settlement_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsIngested:  eventsIngested,
		recordsSettled:  recordsSettled,
		quotaRejections: quotaRejections,
		settleDuration:  settleDuration,
	}, nil
}

// RecordEventIngested counts one delivery by its pipeline disposition.
func (m *Metrics) RecordEventIngested(ctx context.Context, disposition string) {
	if m == nil {
		return
	}
	m.eventsIngested.Add(ctx, 1, metric.WithAttributes(
		attribute.String("disposition", disposition),
	))
}

// RecordSettlement counts one settled record by method and final status.
func (m *Metrics) RecordSettlement(ctx context.Context, method, status string) {
	if m == nil {
		return
	}
	m.recordsSettled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("billing_method", method),
		attribute.String("billing_status", status),
	))
}

// RecordQuotaRejection counts one quota-denied delivery per service type.
func (m *Metrics) RecordQuotaRejection(ctx context.Context, serviceType string) {
	if m == nil {
		return
	}
	m.quotaRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service_type", serviceType),
	))
}

// ObserveSettlementDuration records end-to-end settlement latency.
func (m *Metrics) ObserveSettlementDuration(ctx context.Context, method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.settleDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("billing_method", method),
	))
}
