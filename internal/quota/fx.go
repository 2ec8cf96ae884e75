package quota

import (
	"github.com/tallyline/tallyline/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(service.New),
	fx.Provide(service.NewAdmin),
)
