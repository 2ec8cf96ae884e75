package domain

import (
	"context"
	"time"
)

// Service exposes read access to billing records and usage rollups. Writes
// only happen through the ingestion pipeline and the settlement engine.
type Service interface {
	GetRecord(ctx context.Context, billingID string) (*BillingRecord, error)
	GetRecordByUsageRecordID(ctx context.Context, usageRecordID string) (*BillingRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]BillingRecord, error)
	GetUsageAggregations(ctx context.Context, userID string, periodStart, periodEnd time.Time) (*UsageAggregation, error)
}
