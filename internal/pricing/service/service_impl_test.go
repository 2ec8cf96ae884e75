package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"github.com/tallyline/tallyline/internal/cache"
	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
)

type providerStub struct {
	info  *pricingdomain.PricingInfo
	err   error
	calls int
}

func (p *providerStub) GetProductPricing(ctx context.Context, productID, userID, subscriptionID string) (*pricingdomain.PricingInfo, error) {
	p.calls++
	return p.info, p.err
}

func dec(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func newResolver(provider pricingdomain.Provider, c cache.PipelineCache) pricingdomain.Service {
	return New(Params{
		Log:      zap.NewNop(),
		Provider: provider,
		Cache:    c,
	})
}

func TestResolve_PricePriority(t *testing.T) {
	tests := []struct {
		name string
		info pricingdomain.PricingInfo
		want string
	}{
		{
			name: "unit price wins over all",
			info: pricingdomain.PricingInfo{UnitPrice: dec("0.5"), EffectiveUnitPrice: dec("0.4"), BaseUnitPrice: dec("0.3")},
			want: "0.5",
		},
		{
			name: "effective price when unit price absent",
			info: pricingdomain.PricingInfo{EffectiveUnitPrice: dec("0.4"), BaseUnitPrice: dec("0.3")},
			want: "0.4",
		},
		{
			name: "base price as last resort",
			info: pricingdomain.PricingInfo{BaseUnitPrice: dec("0.3")},
			want: "0.3",
		},
		{
			name: "all absent resolves to zero",
			info: pricingdomain.PricingInfo{},
			want: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newResolver(&providerStub{info: &tt.info}, nil)

			got, err := svc.Resolve(context.Background(), pricingdomain.ResolveRequest{ProductID: "prod_1"})
			require.NoError(t, err)
			assert.True(t, got.UnitPrice.Equal(decimal.RequireFromString(tt.want)),
				"unit price: want %s, got %s", tt.want, got.UnitPrice)
		})
	}
}

func TestResolve_NegativeFreeTierClampedToZero(t *testing.T) {
	svc := newResolver(&providerStub{info: &pricingdomain.PricingInfo{
		UnitPrice:     dec("1"),
		FreeTierLimit: decimal.RequireFromString("-5"),
	}}, nil)

	got, err := svc.Resolve(context.Background(), pricingdomain.ResolveRequest{ProductID: "prod_1"})
	require.NoError(t, err)
	assert.True(t, got.FreeTierLimit.IsZero())
}

func TestResolve_CurrencyDefaultsToCredits(t *testing.T) {
	svc := newResolver(&providerStub{info: &pricingdomain.PricingInfo{UnitPrice: dec("1")}}, nil)

	got, err := svc.Resolve(context.Background(), pricingdomain.ResolveRequest{ProductID: "prod_1"})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.CurrencyCredits, got.Currency)
}

func TestResolve_MissingPricingIsHardError(t *testing.T) {
	svc := newResolver(&providerStub{info: nil}, nil)

	got, err := svc.Resolve(context.Background(), pricingdomain.ResolveRequest{ProductID: "prod_404"})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, pricingdomain.ErrPricingUnavailable)
}

func TestResolve_EmptyProductRejected(t *testing.T) {
	svc := newResolver(&providerStub{}, nil)

	_, err := svc.Resolve(context.Background(), pricingdomain.ResolveRequest{ProductID: "   "})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidProduct)
}

func TestResolve_CacheShortCircuitsProvider(t *testing.T) {
	provider := &providerStub{info: &pricingdomain.PricingInfo{UnitPrice: dec("0.25")}}
	svc := newResolver(provider, cache.NewPipelineCache(100))

	req := pricingdomain.ResolveRequest{ProductID: "prod_1", SubscriptionID: "sub_1"}

	first, err := svc.Resolve(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.True(t, first.UnitPrice.Equal(second.UnitPrice))
}
