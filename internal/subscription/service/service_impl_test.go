package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tallyline/tallyline/internal/cache"
	subscriptiondomain "github.com/tallyline/tallyline/internal/subscription/domain"
)

type providerStub struct {
	info  *subscriptiondomain.SubscriptionInfo
	err   error
	calls int
}

func (p *providerStub) GetSubscriptionInfo(ctx context.Context, subscriptionID string) (*subscriptiondomain.SubscriptionInfo, error) {
	p.calls++
	return p.info, p.err
}

func newChecker(provider subscriptiondomain.Provider, c cache.PipelineCache) subscriptiondomain.Service {
	return New(Params{
		Log:      zap.NewNop(),
		Provider: provider,
		Cache:    c,
	})
}

func terms(products ...subscriptiondomain.IncludedProduct) *subscriptiondomain.SubscriptionInfo {
	return &subscriptiondomain.SubscriptionInfo{
		SubscriptionID:   "sub_1",
		IncludedProducts: products,
	}
}

func TestCheckInclusion(t *testing.T) {
	tests := []struct {
		name     string
		req      subscriptiondomain.CheckRequest
		info     *subscriptiondomain.SubscriptionInfo
		err      error
		included bool
		wantErr  error
	}{
		{
			name: "allowance covers the usage",
			req: subscriptiondomain.CheckRequest{
				SubscriptionID: "sub_1",
				ProductID:      "prod_1",
				UsageAmount:    decimal.NewFromInt(100),
			},
			info:     terms(subscriptiondomain.IncludedProduct{ProductID: "prod_1", IncludedAmount: decimal.NewFromInt(500)}),
			included: true,
		},
		{
			name: "allowance exactly equal covers the usage",
			req: subscriptiondomain.CheckRequest{
				SubscriptionID: "sub_1",
				ProductID:      "prod_1",
				UsageAmount:    decimal.NewFromInt(500),
			},
			info:     terms(subscriptiondomain.IncludedProduct{ProductID: "prod_1", IncludedAmount: decimal.NewFromInt(500)}),
			included: true,
		},
		{
			name: "allowance smaller than usage is not included",
			req: subscriptiondomain.CheckRequest{
				SubscriptionID: "sub_1",
				ProductID:      "prod_1",
				UsageAmount:    decimal.NewFromInt(501),
			},
			info: terms(subscriptiondomain.IncludedProduct{ProductID: "prod_1", IncludedAmount: decimal.NewFromInt(500)}),
		},
		{
			name: "product not in inclusion list",
			req: subscriptiondomain.CheckRequest{
				SubscriptionID: "sub_1",
				ProductID:      "prod_other",
				UsageAmount:    decimal.NewFromInt(1),
			},
			info: terms(subscriptiondomain.IncludedProduct{ProductID: "prod_1", IncludedAmount: decimal.NewFromInt(500)}),
		},
		{
			name: "first matching row is authoritative even when insufficient",
			req: subscriptiondomain.CheckRequest{
				SubscriptionID: "sub_1",
				ProductID:      "prod_1",
				UsageAmount:    decimal.NewFromInt(100),
			},
			info: terms(
				subscriptiondomain.IncludedProduct{ProductID: "prod_1", IncludedAmount: decimal.NewFromInt(50)},
				subscriptiondomain.IncludedProduct{ProductID: "prod_1", IncludedAmount: decimal.NewFromInt(1000)},
			),
		},
		{
			name: "no subscription id means not included",
			req: subscriptiondomain.CheckRequest{
				ProductID:   "prod_1",
				UsageAmount: decimal.NewFromInt(1),
			},
		},
		{
			name: "inactive subscription means not included",
			req: subscriptiondomain.CheckRequest{
				SubscriptionID: "sub_gone",
				ProductID:      "prod_1",
				UsageAmount:    decimal.NewFromInt(1),
			},
			info: nil,
		},
		{
			name: "missing product id is rejected",
			req: subscriptiondomain.CheckRequest{
				SubscriptionID: "sub_1",
				UsageAmount:    decimal.NewFromInt(1),
			},
			wantErr: subscriptiondomain.ErrInvalidProduct,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newChecker(&providerStub{info: tt.info, err: tt.err}, nil)

			result, err := svc.CheckInclusion(context.Background(), tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.included, result.Included)
		})
	}
}

func TestCheckInclusion_ProviderErrorPropagates(t *testing.T) {
	svc := newChecker(&providerStub{err: errors.New("upstream down")}, nil)

	_, err := svc.CheckInclusion(context.Background(), subscriptiondomain.CheckRequest{
		SubscriptionID: "sub_1",
		ProductID:      "prod_1",
		UsageAmount:    decimal.NewFromInt(1),
	})
	assert.Error(t, err)
}

func TestCheckInclusion_TermsAreCached(t *testing.T) {
	provider := &providerStub{info: terms(
		subscriptiondomain.IncludedProduct{ProductID: "prod_1", IncludedAmount: decimal.NewFromInt(100)},
	)}
	svc := newChecker(provider, cache.NewPipelineCache(100))

	// Two checks with different amounts against the same subscription: the
	// second must hit the cache but still re-evaluate the amount.
	first, err := svc.CheckInclusion(context.Background(), subscriptiondomain.CheckRequest{
		SubscriptionID: "sub_1", ProductID: "prod_1", UsageAmount: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	second, err := svc.CheckInclusion(context.Background(), subscriptiondomain.CheckRequest{
		SubscriptionID: "sub_1", ProductID: "prod_1", UsageAmount: decimal.NewFromInt(200),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.True(t, first.Included)
	assert.False(t, second.Included)
}
