package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
)

// UsageEvent is one metered unit of consumption as delivered by upstream
// services. event_id is the idempotency key for the whole pipeline: two
// deliveries with the same event_id produce exactly one billing record.
type UsageEvent struct {
	EventID        string                    `json:"event_id"`
	UserID         string                    `json:"user_id"`
	OrganizationID string                    `json:"organization_id,omitempty"`
	SubscriptionID string                    `json:"subscription_id,omitempty"`
	ProductID      string                    `json:"product_id"`
	ServiceType    billingdomain.ServiceType `json:"service_type"`
	UsageAmount    decimal.Decimal           `json:"usage_amount"`
	UnitType       string                    `json:"unit_type,omitempty"`
	UsageDetails   map[string]any            `json:"usage_details,omitempty"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// Disposition classifies what the pipeline did with a delivery.
type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionDuplicate Disposition = "duplicate"
	DispositionDropped   Disposition = "dropped"
	DispositionRejected  Disposition = "rejected"
)

// Outcome reports the pipeline's verdict for one delivery.
type Outcome struct {
	Disposition   Disposition                  `json:"disposition"`
	Record        *billingdomain.BillingRecord `json:"record,omitempty"`
	BillingStatus billingdomain.BillingStatus  `json:"billing_status,omitempty"`
	BillingMethod billingdomain.BillingMethod  `json:"billing_method,omitempty"`
	Reason        string                       `json:"reason,omitempty"`
}

// Service is the entry point of the billing pipeline.
type Service interface {
	// ProcessEvent runs one usage event through pricing, quota admission,
	// record creation and settlement. Redelivery of an already-processed
	// event returns a duplicate outcome, never an error.
	ProcessEvent(ctx context.Context, event UsageEvent) (*Outcome, error)
}

var (
	ErrInvalidEvent = errors.New("invalid_usage_event")
	ErrQuotaDenied  = errors.New("quota_exceeded")
)
