package cache

import (
	"go.uber.org/fx"

	"github.com/tallyline/tallyline/internal/config"
)

var Module = fx.Module("cache",
	fx.Provide(func(cfg config.Config) PipelineCache {
		return NewPipelineCache(cfg.Ingest.DedupeCacheCap)
	}),
)
