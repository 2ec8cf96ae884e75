package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ServiceType identifies the billable product family of a usage event.
type ServiceType string

const (
	ServiceTypeModelInference ServiceType = "model_inference"
	ServiceTypeAPICall        ServiceType = "api_call"
	ServiceTypeStorage        ServiceType = "storage"
)

// Currency is the settlement denomination of a billing record.
type Currency string

const (
	// CurrencyCredits is the platform's internal credit denomination, used
	// whenever the pricing provider does not name a currency.
	CurrencyCredits Currency = "credits"
	CurrencyUSD     Currency = "usd"
	CurrencyEUR     Currency = "eur"
)

// BillingMethod is the settlement strategy chosen for a record.
type BillingMethod string

const (
	MethodSubscriptionIncluded BillingMethod = "subscription_included"
	MethodWalletDeduction      BillingMethod = "wallet_deduction"
	MethodCreditConsumption    BillingMethod = "credit_consumption"
	MethodPaymentCharge        BillingMethod = "payment_charge"
)

// BillingStatus is the lifecycle state of a billing record. Transitions are
// one-directional: pending -> processing -> completed | failed. A record
// settled by the deferred payment_charge method stays pending.
type BillingStatus string

const (
	StatusPending    BillingStatus = "pending"
	StatusProcessing BillingStatus = "processing"
	StatusCompleted  BillingStatus = "completed"
	StatusFailed     BillingStatus = "failed"
)

// BillingRecord is one priced, settled-or-settling unit of usage.
type BillingRecord struct {
	ID             snowflake.ID `json:"billing_id" gorm:"primaryKey"`
	UserID         string       `json:"user_id" gorm:"type:text;not null;index"`
	OrganizationID string       `json:"organization_id,omitempty" gorm:"type:text;index"`
	SubscriptionID string       `json:"subscription_id,omitempty" gorm:"type:text"`

	// UsageRecordID ties the record back to the originating usage event.
	// The unique index is the idempotency anchor for the whole pipeline.
	UsageRecordID string `json:"usage_record_id" gorm:"type:text;not null;uniqueIndex:ux_billing_records_usage_record"`

	ProductID   string          `json:"product_id" gorm:"type:text;not null"`
	ServiceType ServiceType     `json:"service_type" gorm:"type:text;not null"`
	UsageAmount decimal.Decimal `json:"usage_amount" gorm:"type:numeric;not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric;not null"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:numeric;not null"`
	Currency    Currency        `json:"currency" gorm:"type:text;not null"`

	BillingMethod BillingMethod `json:"billing_method" gorm:"type:text;not null"`
	BillingStatus BillingStatus `json:"billing_status" gorm:"type:text;not null;index"`

	// WalletTransactionID holds the balance executor's transaction id for
	// both wallet-deduction and credit-consumption settlements; the
	// BillingMethod column says which executor produced it.
	WalletTransactionID  string `json:"wallet_transaction_id,omitempty" gorm:"type:text"`
	PaymentTransactionID string `json:"payment_transaction_id,omitempty" gorm:"type:text"`
	FailureReason        string `json:"failure_reason,omitempty" gorm:"type:text"`

	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingRecord) TableName() string { return "billing_records" }

// BillingEventType enumerates audit trail events raised by the pipeline.
type BillingEventType string

const (
	EventRecordCreated BillingEventType = "billing.record.created"
	EventCalculated    BillingEventType = "billing.calculated"
	EventProcessed     BillingEventType = "billing.processed"
	EventFailed        BillingEventType = "billing.failed"
	EventQuotaExceeded BillingEventType = "quota.exceeded"
	EventBillingError  BillingEventType = "billing.error"
)

// BillingEvent is an immutable audit trail entry, linked to a billing record
// when one exists.
type BillingEvent struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	BillingRecordID snowflake.ID      `json:"billing_record_id,omitempty" gorm:"index"`
	UserID          string            `json:"user_id" gorm:"type:text;not null;index"`
	EventType       BillingEventType  `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSONMap `json:"payload" gorm:"type:jsonb;not null"`
	CreatedAt       time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_record_events" }

// BillingQuota is a per-subject, per-service, period-bound usage ceiling.
// quota_remaining = quota_limit - quota_used holds after every update.
type BillingQuota struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID         string          `json:"user_id" gorm:"type:text;not null;index:ix_billing_quotas_subject,priority:1"`
	OrganizationID string          `json:"organization_id,omitempty" gorm:"type:text;index:ix_billing_quotas_subject,priority:2"`
	SubscriptionID string          `json:"subscription_id,omitempty" gorm:"type:text"`
	ServiceType    ServiceType     `json:"service_type" gorm:"type:text;not null"`
	QuotaLimit     decimal.Decimal `json:"quota_limit" gorm:"type:numeric;not null"`
	QuotaUsed      decimal.Decimal `json:"quota_used" gorm:"type:numeric;not null"`
	QuotaRemaining decimal.Decimal `json:"quota_remaining" gorm:"type:numeric;not null"`
	PeriodStart    time.Time       `json:"period_start" gorm:"not null"`
	PeriodEnd      time.Time       `json:"period_end" gorm:"not null"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingQuota) TableName() string { return "billing_quotas" }

// UsageAggregation is a read-only rollup over billing records for a period.
type UsageAggregation struct {
	UserID         string                     `json:"user_id"`
	PeriodStart    time.Time                  `json:"period_start"`
	PeriodEnd      time.Time                  `json:"period_end"`
	TotalUsage     decimal.Decimal            `json:"total_usage"`
	TotalCost      decimal.Decimal            `json:"total_cost"`
	UsageBreakdown map[ServiceType]ServiceUse `json:"usage_breakdown"`
}

type ServiceUse struct {
	Usage decimal.Decimal `json:"usage"`
	Cost  decimal.Decimal `json:"cost"`
}
