package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
)

func pricing(unitPrice, freeTier string) pricingdomain.ProductPricing {
	return pricingdomain.ProductPricing{
		ProductID:     "prod_1",
		UnitPrice:     decimal.RequireFromString(unitPrice),
		FreeTierLimit: decimal.RequireFromString(freeTier),
		Currency:      billingdomain.CurrencyCredits,
	}
}

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name          string
		usage         string
		pricing       pricingdomain.ProductPricing
		included      bool
		wantClass     CostClassification
		wantTotal     string
		wantRemaining string
	}{
		{
			name:          "usage fits entirely under free tier",
			usage:         "100",
			pricing:       pricing("0.002", "1000"),
			wantClass:     ClassificationFree,
			wantTotal:     "0",
			wantRemaining: "900",
		},
		{
			name:          "usage exactly at free tier boundary",
			usage:         "1000",
			pricing:       pricing("0.002", "1000"),
			wantClass:     ClassificationFree,
			wantTotal:     "0",
			wantRemaining: "0",
		},
		{
			name:      "free tier is all or nothing, no split",
			usage:     "1001",
			pricing:   pricing("0.002", "1000"),
			wantClass: ClassificationBillable,
			wantTotal: "2.002",
		},
		{
			name:      "subscription inclusion zeroes the cost",
			usage:     "500",
			pricing:   pricing("0.01", "0"),
			included:  true,
			wantClass: ClassificationIncluded,
			wantTotal: "0",
		},
		{
			name:      "free tier wins over inclusion",
			usage:     "50",
			pricing:   pricing("0.01", "100"),
			included:  true,
			wantClass: ClassificationFree,
			wantTotal: "0",
		},
		{
			name:      "plain billable usage",
			usage:     "1500",
			pricing:   pricing("0.002", "0"),
			wantClass: ClassificationBillable,
			wantTotal: "3",
		},
		{
			name:      "zero unit price still classifies billable",
			usage:     "10",
			pricing:   pricing("0", "0"),
			wantClass: ClassificationBillable,
			wantTotal: "0",
		},
		{
			name:      "fractional usage keeps exact decimal cost",
			usage:     "0.5",
			pricing:   pricing("0.1", "0"),
			wantClass: ClassificationBillable,
			wantTotal: "0.05",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateCost(decimal.RequireFromString(tt.usage), tt.pricing, tt.included)

			assert.Equal(t, tt.wantClass, result.Classification)
			assert.True(t, result.TotalCost.Equal(decimal.RequireFromString(tt.wantTotal)),
				"total cost: want %s, got %s", tt.wantTotal, result.TotalCost)
			assert.Equal(t, tt.pricing.Currency, result.Currency)
			assert.True(t, result.RawCost.Equal(decimal.RequireFromString(tt.usage).Mul(tt.pricing.UnitPrice)))

			if tt.wantRemaining != "" {
				assert.True(t, result.FreeTierRemaining.Equal(decimal.RequireFromString(tt.wantRemaining)),
					"free tier remaining: want %s, got %s", tt.wantRemaining, result.FreeTierRemaining)
			}
		})
	}
}

func TestCostResultHelpers(t *testing.T) {
	free := CalculateCost(decimal.NewFromInt(10), pricing("1", "100"), false)
	assert.True(t, free.IsFreeTier())
	assert.False(t, free.IsIncluded())

	included := CalculateCost(decimal.NewFromInt(10), pricing("1", "0"), true)
	assert.True(t, included.IsIncluded())
	assert.False(t, included.IsFreeTier())
}
