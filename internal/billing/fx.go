package billing

import (
	"github.com/tallyline/tallyline/internal/billing/repository"
	"github.com/tallyline/tallyline/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
