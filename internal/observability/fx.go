package observability

import (
	"go.uber.org/fx"

	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/observability/metrics"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OTelEnabled,
		ExporterEndpoint: cfg.OTLPEndpoint,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}
