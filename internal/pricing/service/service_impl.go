package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"github.com/tallyline/tallyline/internal/cache"
	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Provider pricingdomain.Provider
	Cache    cache.PipelineCache `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	provider pricingdomain.Provider
	cache    cache.PipelineCache
}

func New(p Params) pricingdomain.Service {
	return &Service{
		log:      p.Log.Named("pricing.service"),
		provider: p.Provider,
		cache:    p.Cache,
	}
}

// Resolve looks up the effective unit price, free-tier allowance and currency
// for a product. Price priority: explicit unit price, then the effective
// pricing override, then the base model price, then zero.
func (s *Service) Resolve(ctx context.Context, req pricingdomain.ResolveRequest) (*pricingdomain.ProductPricing, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, pricingdomain.ErrInvalidProduct
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetPricing(productID, req.SubscriptionID); ok {
			return cached, nil
		}
	}

	info, err := s.provider.GetProductPricing(ctx, productID, req.UserID, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		s.log.Warn("no pricing for product", zap.String("product_id", productID))
		return nil, pricingdomain.ErrPricingUnavailable
	}

	unitPrice := decimal.Zero
	switch {
	case info.UnitPrice != nil:
		unitPrice = *info.UnitPrice
	case info.EffectiveUnitPrice != nil:
		unitPrice = *info.EffectiveUnitPrice
	case info.BaseUnitPrice != nil:
		unitPrice = *info.BaseUnitPrice
	}

	freeTier := info.FreeTierLimit
	if freeTier.IsNegative() {
		freeTier = decimal.Zero
	}

	currency := billingdomain.Currency(strings.ToLower(strings.TrimSpace(info.Currency)))
	if currency == "" {
		currency = billingdomain.CurrencyCredits
	}

	pricing := &pricingdomain.ProductPricing{
		ProductID:     productID,
		UnitPrice:     unitPrice,
		FreeTierLimit: freeTier,
		Currency:      currency,
	}
	if s.cache != nil {
		s.cache.SetPricing(productID, req.SubscriptionID, pricing)
	}
	return pricing, nil
}
