package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/tallyline/tallyline/internal/billing"
	"github.com/tallyline/tallyline/internal/cache"
	"github.com/tallyline/tallyline/internal/clock"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/events"
	"github.com/tallyline/tallyline/internal/ingest"
	"github.com/tallyline/tallyline/internal/logger"
	"github.com/tallyline/tallyline/internal/migration"
	"github.com/tallyline/tallyline/internal/observability"
	"github.com/tallyline/tallyline/internal/pricing"
	"github.com/tallyline/tallyline/internal/providers"
	"github.com/tallyline/tallyline/internal/quota"
	"github.com/tallyline/tallyline/internal/ratelimit"
	"github.com/tallyline/tallyline/internal/scheduler"
	"github.com/tallyline/tallyline/internal/server"
	"github.com/tallyline/tallyline/internal/settlement"
	"github.com/tallyline/tallyline/internal/subscription"
	"github.com/tallyline/tallyline/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		events.Module,
		ratelimit.Module,
		providers.Module,
		migration.Module,

		// Billing pipeline
		billing.Module,
		pricing.Module,
		subscription.Module,
		quota.Module,
		settlement.Module,
		ingest.Module,
		scheduler.Module,

		// HTTP surface
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
