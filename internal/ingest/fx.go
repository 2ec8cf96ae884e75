package ingest

import (
	"context"

	"go.uber.org/fx"

	"github.com/tallyline/tallyline/internal/ingest/service"
)

var Module = fx.Module("ingest",
	fx.Provide(
		service.New,
		NewConsumer,
	),
	fx.Invoke(func(lc fx.Lifecycle, consumer *Consumer) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return consumer.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return consumer.Stop(ctx)
			},
		})
	}),
)
