package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository is the durable-storage collaborator contract of the billing core.
type Repository interface {
	// CreateRecord inserts a billing record. It returns false without error
	// when a record with the same usage_record_id already exists; the
	// duplicate-key outcome is the idempotency signal for redeliveries.
	CreateRecord(ctx context.Context, db *gorm.DB, record *BillingRecord) (bool, error)

	// UpdateRecordStatus moves a record from an expected prior status to the
	// next one. The guard keeps transitions one-directional: the update is a
	// no-op (returned as ErrInvalidTransition) when the stored status no
	// longer matches from.
	UpdateRecordStatus(ctx context.Context, db *gorm.DB, update StatusUpdate) error

	FindRecordByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingRecord, error)
	FindRecordByUsageRecordID(ctx context.Context, db *gorm.DB, usageRecordID string) (*BillingRecord, error)
	ListRecords(ctx context.Context, db *gorm.DB, filter RecordFilter) ([]BillingRecord, error)

	// ListStaleProcessing returns records stuck in processing whose last
	// update precedes cutoff, for the reconciliation sweep.
	ListStaleProcessing(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]BillingRecord, error)

	CreateEvent(ctx context.Context, db *gorm.DB, event *BillingEvent) error

	// GetQuota returns the single active quota row for the subject and
	// service whose period contains now, or nil when none exists. When
	// overlapping rows match, the most specific subject wins (subscription,
	// then organization, then user), latest period_start breaking ties.
	GetQuota(ctx context.Context, db *gorm.DB, subject QuotaSubject, serviceType ServiceType, now time.Time) (*BillingQuota, error)

	// IncrementQuotaUsed atomically adds amount to quota_used and keeps
	// quota_remaining consistent. Never read-modify-write in the core.
	IncrementQuotaUsed(ctx context.Context, db *gorm.DB, quotaID snowflake.ID, amount decimal.Decimal) error

	GetUsageAggregations(ctx context.Context, db *gorm.DB, userID string, periodStart, periodEnd time.Time) (*UsageAggregation, error)
}

type StatusUpdate struct {
	RecordID             snowflake.ID
	From                 BillingStatus
	To                   BillingStatus
	Method               BillingMethod
	WalletTransactionID  string
	PaymentTransactionID string
	FailureReason        string
	UpdatedAt            time.Time
}

type RecordFilter struct {
	UserID      string
	Status      BillingStatus
	ServiceType ServiceType
	Limit       int
}

type QuotaSubject struct {
	UserID         string
	OrganizationID string
	SubscriptionID string
}
