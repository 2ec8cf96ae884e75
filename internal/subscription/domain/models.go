package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// IncludedProduct is one bundled allowance on a subscription's terms.
type IncludedProduct struct {
	ProductID      string          `json:"product_id"`
	IncludedAmount decimal.Decimal `json:"included_amount"`
}

// SubscriptionInfo is the subscription provider's view of active terms.
type SubscriptionInfo struct {
	SubscriptionID   string            `json:"subscription_id"`
	PlanID           string            `json:"plan_id,omitempty"`
	IncludedProducts []IncludedProduct `json:"included_products"`
}

// Provider fetches subscription terms. A nil response with a nil error means
// the subscription does not exist or is inactive.
type Provider interface {
	GetSubscriptionInfo(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error)
}

// InclusionResult reports whether a usage amount is covered by the
// subscription's bundled allowance.
type InclusionResult struct {
	Included       bool            `json:"included"`
	ProductID      string          `json:"product_id"`
	IncludedAmount decimal.Decimal `json:"included_amount"`
}

type CheckRequest struct {
	SubscriptionID string
	ProductID      string
	UsageAmount    decimal.Decimal
}

type Service interface {
	CheckInclusion(ctx context.Context, req CheckRequest) (InclusionResult, error)
}

var ErrInvalidProduct = errors.New("invalid_product")
