package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo billingdomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo billingdomain.Repository
}

func New(p Params) billingdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("billing.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetRecord(ctx context.Context, billingID string) (*billingdomain.BillingRecord, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(billingID))
	if err != nil || id == 0 {
		return nil, billingdomain.ErrRecordNotFound
	}

	record, err := s.repo.FindRecordByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, billingdomain.ErrRecordNotFound
	}
	return record, nil
}

func (s *Service) GetRecordByUsageRecordID(ctx context.Context, usageRecordID string) (*billingdomain.BillingRecord, error) {
	record, err := s.repo.FindRecordByUsageRecordID(ctx, s.db, strings.TrimSpace(usageRecordID))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, billingdomain.ErrRecordNotFound
	}
	return record, nil
}

func (s *Service) ListRecords(ctx context.Context, filter billingdomain.RecordFilter) ([]billingdomain.BillingRecord, error) {
	if strings.TrimSpace(filter.UserID) == "" {
		return nil, billingdomain.ErrInvalidUser
	}
	return s.repo.ListRecords(ctx, s.db, filter)
}

func (s *Service) GetUsageAggregations(ctx context.Context, userID string, periodStart, periodEnd time.Time) (*billingdomain.UsageAggregation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, billingdomain.ErrInvalidUser
	}
	if !periodEnd.After(periodStart) {
		return nil, billingdomain.ErrInvalidPeriod
	}
	return s.repo.GetUsageAggregations(ctx, s.db, userID, periodStart, periodEnd)
}
