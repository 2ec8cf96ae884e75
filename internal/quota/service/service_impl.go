package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"github.com/tallyline/tallyline/internal/clock"
	quotadomain "github.com/tallyline/tallyline/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  billingdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  billingdomain.Repository
	clock clock.Clock
}

func New(p Params) quotadomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("quota.service"),
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Check(ctx context.Context, req quotadomain.CheckRequest) (quotadomain.Decision, error) {
	if strings.TrimSpace(req.Subject.UserID) == "" {
		return quotadomain.Decision{}, quotadomain.ErrInvalidSubject
	}
	if req.RequestedAmount.IsNegative() {
		return quotadomain.Decision{}, quotadomain.ErrInvalidAmount
	}

	quota, err := s.repo.GetQuota(ctx, s.db, req.Subject, req.ServiceType, s.clock.Now())
	if err != nil {
		return quotadomain.Decision{}, err
	}
	if quota == nil {
		return quotadomain.Decision{Admitted: true, Unlimited: true}, nil
	}

	remaining := quota.QuotaLimit.Sub(quota.QuotaUsed)
	decision := quotadomain.Decision{
		Admitted:  req.RequestedAmount.LessThanOrEqual(remaining),
		QuotaID:   quota.ID,
		Limit:     quota.QuotaLimit,
		Used:      quota.QuotaUsed,
		Remaining: remaining,
	}
	if !decision.Admitted {
		s.log.Info("quota exceeded",
			zap.String("user_id", req.Subject.UserID),
			zap.String("service_type", string(req.ServiceType)),
			zap.String("requested", req.RequestedAmount.String()),
			zap.String("remaining", remaining.String()),
		)
	}
	return decision, nil
}

func (s *Service) RecordConsumption(ctx context.Context, quotaID snowflake.ID, amount decimal.Decimal) error {
	if quotaID == 0 {
		return nil
	}
	if !amount.IsPositive() {
		return nil
	}
	return s.repo.IncrementQuotaUsed(ctx, s.db, quotaID, amount)
}
