package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
)

// PricingInfo is the raw response of the pricing provider collaborator.
// Price fields are pointers because the provider may fill any subset.
type PricingInfo struct {
	UnitPrice          *decimal.Decimal `json:"unit_price,omitempty"`
	EffectiveUnitPrice *decimal.Decimal `json:"effective_unit_price,omitempty"`
	BaseUnitPrice      *decimal.Decimal `json:"base_unit_price,omitempty"`
	FreeTierLimit      decimal.Decimal  `json:"free_tier_limit"`
	Currency           string           `json:"currency,omitempty"`
}

// Provider fetches product pricing from the pricing service. A nil response
// with a nil error means no pricing exists for the product.
type Provider interface {
	GetProductPricing(ctx context.Context, productID, userID, subscriptionID string) (*PricingInfo, error)
}

// ProductPricing is the resolved effective pricing used by the calculator.
type ProductPricing struct {
	ProductID     string                 `json:"product_id"`
	UnitPrice     decimal.Decimal        `json:"unit_price"`
	FreeTierLimit decimal.Decimal        `json:"free_tier_limit"`
	Currency      billingdomain.Currency `json:"currency"`
}

type ResolveRequest struct {
	ProductID      string
	UserID         string
	SubscriptionID string
}

type Service interface {
	Resolve(ctx context.Context, req ResolveRequest) (*ProductPricing, error)
}

var (
	ErrInvalidProduct = errors.New("invalid_product")

	// ErrPricingUnavailable is a hard stop: no cost can be computed without
	// a price. The event is not retried automatically.
	ErrPricingUnavailable = errors.New("pricing_unavailable")
)
