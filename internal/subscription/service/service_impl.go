package service

import (
	"context"
	"strings"

	"github.com/tallyline/tallyline/internal/cache"
	subscriptiondomain "github.com/tallyline/tallyline/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Provider subscriptiondomain.Provider
	Cache    cache.PipelineCache `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	provider subscriptiondomain.Provider
	cache    cache.PipelineCache
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		log:      p.Log.Named("subscription.service"),
		provider: p.Provider,
		cache:    p.Cache,
	}
}

// CheckInclusion scans the subscription's included products for a matching
// product whose bundled allowance covers the full requested usage. The first
// match wins; product_id is expected to be unique within a subscription's
// inclusion list, and when duplicates exist the first encountered row is
// authoritative.
func (s *Service) CheckInclusion(ctx context.Context, req subscriptiondomain.CheckRequest) (subscriptiondomain.InclusionResult, error) {
	notIncluded := subscriptiondomain.InclusionResult{Included: false}

	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if subscriptionID == "" {
		return notIncluded, nil
	}

	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return notIncluded, subscriptiondomain.ErrInvalidProduct
	}

	info, err := s.subscriptionInfo(ctx, subscriptionID)
	if err != nil {
		return notIncluded, err
	}
	if info == nil {
		return notIncluded, nil
	}

	for _, item := range info.IncludedProducts {
		if item.ProductID != productID {
			continue
		}
		if item.IncludedAmount.GreaterThanOrEqual(req.UsageAmount) {
			return subscriptiondomain.InclusionResult{
				Included:       true,
				ProductID:      item.ProductID,
				IncludedAmount: item.IncludedAmount,
			}, nil
		}
		break
	}

	return notIncluded, nil
}

// subscriptionInfo fetches terms through the short-lived cache. The cached
// value is the raw terms, never a verdict, so amount-dependent checks stay
// correct across hits.
func (s *Service) subscriptionInfo(ctx context.Context, subscriptionID string) (*subscriptiondomain.SubscriptionInfo, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetSubscription(subscriptionID); ok {
			return cached, nil
		}
	}
	info, err := s.provider.GetSubscriptionInfo(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if info != nil && s.cache != nil {
		s.cache.SetSubscription(subscriptionID, info)
	}
	return info, nil
}
