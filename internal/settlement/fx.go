package settlement

import (
	"go.uber.org/fx"

	"github.com/tallyline/tallyline/internal/settlement/service"
)

var Module = fx.Module("settlement",
	fx.Provide(service.New),
)
