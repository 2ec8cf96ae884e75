package service

import (
	"github.com/shopspring/decimal"
	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
)

// CostClassification tags how a usage amount is charged.
type CostClassification string

const (
	ClassificationFree     CostClassification = "free"
	ClassificationIncluded CostClassification = "included"
	ClassificationBillable CostClassification = "billable"
)

// CostResult is the outcome of the cost calculation for one usage event.
type CostResult struct {
	Classification    CostClassification
	RawCost           decimal.Decimal
	TotalCost         decimal.Decimal
	UnitPrice         decimal.Decimal
	Currency          billingdomain.Currency
	FreeTierRemaining decimal.Decimal
}

// IsFreeTier reports whether the usage fits entirely under the free tier.
func (r CostResult) IsFreeTier() bool { return r.Classification == ClassificationFree }

// IsIncluded reports whether the usage is covered by subscription terms.
func (r CostResult) IsIncluded() bool { return r.Classification == ClassificationIncluded }

// CalculateCost combines usage amount, resolved pricing and the subscription
// inclusion verdict into a total cost and a classification.
//
// The free tier is all-or-nothing: usage is free only when the entire amount
// fits under the allowance. A single usage record is never split into free
// and billable portions.
func CalculateCost(usageAmount decimal.Decimal, pricing pricingdomain.ProductPricing, included bool) CostResult {
	rawCost := usageAmount.Mul(pricing.UnitPrice)

	result := CostResult{
		RawCost:   rawCost,
		UnitPrice: pricing.UnitPrice,
		Currency:  pricing.Currency,
	}

	switch {
	case pricing.FreeTierLimit.IsPositive() && usageAmount.LessThanOrEqual(pricing.FreeTierLimit):
		result.Classification = ClassificationFree
		result.TotalCost = decimal.Zero
		result.FreeTierRemaining = pricing.FreeTierLimit.Sub(usageAmount)
	case included:
		result.Classification = ClassificationIncluded
		result.TotalCost = decimal.Zero
	default:
		result.Classification = ClassificationBillable
		result.TotalCost = rawCost
	}

	return result
}
