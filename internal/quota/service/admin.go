package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"github.com/tallyline/tallyline/internal/clock"
	quotadomain "github.com/tallyline/tallyline/internal/quota/domain"
	"github.com/tallyline/tallyline/pkg/repository"
)

type AdminParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// Admin manages quota rows. The pipeline only reads quotas and increments
// usage; creating, listing and retiring them is an operator concern.
type Admin struct {
	store repository.Repository[billingdomain.BillingQuota]
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewAdmin(p AdminParams) *Admin {
	return &Admin{
		store: repository.ProvideStore[billingdomain.BillingQuota](p.DB),
		log:   p.Log.Named("quota.admin"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (a *Admin) CreateQuota(ctx context.Context, quota *billingdomain.BillingQuota) error {
	if quota == nil || strings.TrimSpace(quota.UserID) == "" {
		return quotadomain.ErrInvalidSubject
	}
	if !quota.QuotaLimit.IsPositive() {
		return quotadomain.ErrInvalidAmount
	}
	if !quota.PeriodEnd.After(quota.PeriodStart) {
		return quotadomain.ErrInvalidPeriod
	}

	now := a.clock.Now()
	quota.ID = a.genID.Generate()
	if quota.QuotaUsed.IsNegative() {
		quota.QuotaUsed = decimal.Zero
	}
	quota.QuotaRemaining = quota.QuotaLimit.Sub(quota.QuotaUsed)
	quota.CreatedAt = now
	quota.UpdatedAt = now

	if err := a.store.Create(ctx, quota); err != nil {
		return err
	}
	a.log.Info("quota created",
		zap.String("quota_id", quota.ID.String()),
		zap.String("user_id", quota.UserID),
		zap.String("service_type", string(quota.ServiceType)),
		zap.String("quota_limit", quota.QuotaLimit.String()),
	)
	return nil
}

func (a *Admin) ListQuotas(ctx context.Context, userID string) ([]*billingdomain.BillingQuota, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, quotadomain.ErrInvalidSubject
	}
	return a.store.Find(ctx, &billingdomain.BillingQuota{UserID: userID})
}

func (a *Admin) DeleteQuota(ctx context.Context, quotaID string) error {
	id, err := snowflake.ParseString(strings.TrimSpace(quotaID))
	if err != nil || id == 0 {
		return quotadomain.ErrQuotaNotFound
	}

	existing, err := a.store.FindOne(ctx, &billingdomain.BillingQuota{ID: id})
	if err != nil {
		return err
	}
	if existing == nil {
		return quotadomain.ErrQuotaNotFound
	}
	return a.store.Delete(ctx, id.String())
}
