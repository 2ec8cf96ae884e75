package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/events"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql deployments (dev, tests) get the gorm-derived
		// schema instead of the versioned SQL.
		return conn.AutoMigrate(
			&billingdomain.BillingRecord{},
			&billingdomain.BillingEvent{},
			&billingdomain.BillingQuota{},
			&events.OutboxEvent{},
		)
	}),
)
