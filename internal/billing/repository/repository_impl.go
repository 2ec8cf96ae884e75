package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() billingdomain.Repository {
	return &repo{}
}

func (r *repo) CreateRecord(ctx context.Context, db *gorm.DB, record *billingdomain.BillingRecord) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "usage_record_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateRecordStatus(ctx context.Context, db *gorm.DB, update billingdomain.StatusUpdate) error {
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	values := map[string]any{
		"billing_status": update.To,
		"updated_at":     updatedAt,
	}
	if update.Method != "" {
		values["billing_method"] = update.Method
	}
	if update.WalletTransactionID != "" {
		values["wallet_transaction_id"] = update.WalletTransactionID
	}
	if update.PaymentTransactionID != "" {
		values["payment_transaction_id"] = update.PaymentTransactionID
	}
	if update.FailureReason != "" {
		values["failure_reason"] = update.FailureReason
	}

	result := db.WithContext(ctx).
		Model(&billingdomain.BillingRecord{}).
		Where("id = ? AND billing_status = ?", update.RecordID, update.From).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingdomain.ErrInvalidTransition
	}
	return nil
}

func (r *repo) FindRecordByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*billingdomain.BillingRecord, error) {
	var record billingdomain.BillingRecord
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) FindRecordByUsageRecordID(ctx context.Context, db *gorm.DB, usageRecordID string) (*billingdomain.BillingRecord, error) {
	usageRecordID = strings.TrimSpace(usageRecordID)
	if usageRecordID == "" {
		return nil, nil
	}
	var record billingdomain.BillingRecord
	err := db.WithContext(ctx).
		Where("usage_record_id = ?", usageRecordID).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) ListRecords(ctx context.Context, db *gorm.DB, filter billingdomain.RecordFilter) ([]billingdomain.BillingRecord, error) {
	stmt := db.WithContext(ctx).Model(&billingdomain.BillingRecord{})
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("billing_status = ?", filter.Status)
	}
	if filter.ServiceType != "" {
		stmt = stmt.Where("service_type = ?", filter.ServiceType)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var records []billingdomain.BillingRecord
	err := stmt.Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) ListStaleProcessing(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]billingdomain.BillingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []billingdomain.BillingRecord
	err := db.WithContext(ctx).
		Where("billing_status = ? AND updated_at <= ?", billingdomain.StatusProcessing, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) CreateEvent(ctx context.Context, db *gorm.DB, event *billingdomain.BillingEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) GetQuota(
	ctx context.Context,
	db *gorm.DB,
	subject billingdomain.QuotaSubject,
	serviceType billingdomain.ServiceType,
	now time.Time,
) (*billingdomain.BillingQuota, error) {
	var quota billingdomain.BillingQuota
	// Most specific subject wins; latest period breaks remaining ties.
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM billing_quotas
		 WHERE service_type = ?
		   AND period_start <= ? AND period_end > ?
		   AND (
		     (subscription_id <> '' AND subscription_id = ?)
		     OR (subscription_id = '' AND organization_id <> '' AND organization_id = ?)
		     OR (subscription_id = '' AND organization_id = '' AND user_id = ?)
		   )
		 ORDER BY
		   CASE
		     WHEN subscription_id <> '' THEN 0
		     WHEN organization_id <> '' THEN 1
		     ELSE 2
		   END,
		   period_start DESC
		 LIMIT 1`,
		serviceType,
		now,
		now,
		subject.SubscriptionID,
		subject.OrganizationID,
		subject.UserID,
	).Scan(&quota).Error
	if err != nil {
		return nil, err
	}
	if quota.ID == 0 {
		return nil, nil
	}
	return &quota, nil
}

func (r *repo) IncrementQuotaUsed(ctx context.Context, db *gorm.DB, quotaID snowflake.ID, amount decimal.Decimal) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_quotas
		 SET quota_used = quota_used + ?,
		     quota_remaining = quota_limit - (quota_used + ?),
		     updated_at = ?
		 WHERE id = ?`,
		amount,
		amount,
		time.Now().UTC(),
		quotaID,
	).Error
}

type aggregationRow struct {
	ServiceType billingdomain.ServiceType
	TotalUsage  decimal.Decimal
	TotalCost   decimal.Decimal
}

func (r *repo) GetUsageAggregations(
	ctx context.Context,
	db *gorm.DB,
	userID string,
	periodStart, periodEnd time.Time,
) (*billingdomain.UsageAggregation, error) {
	var rows []aggregationRow
	// Failed settlements are excluded: the usage was never charged.
	err := db.WithContext(ctx).Raw(
		`SELECT service_type,
		        COALESCE(SUM(usage_amount), 0) AS total_usage,
		        COALESCE(SUM(total_amount), 0) AS total_cost
		 FROM billing_records
		 WHERE user_id = ?
		   AND created_at >= ? AND created_at < ?
		   AND billing_status <> ?
		 GROUP BY service_type`,
		userID,
		periodStart,
		periodEnd,
		billingdomain.StatusFailed,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	agg := &billingdomain.UsageAggregation{
		UserID:         userID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		TotalUsage:     decimal.Zero,
		TotalCost:      decimal.Zero,
		UsageBreakdown: make(map[billingdomain.ServiceType]billingdomain.ServiceUse, len(rows)),
	}
	for _, row := range rows {
		agg.TotalUsage = agg.TotalUsage.Add(row.TotalUsage)
		agg.TotalCost = agg.TotalCost.Add(row.TotalCost)
		agg.UsageBreakdown[row.ServiceType] = billingdomain.ServiceUse{
			Usage: row.TotalUsage,
			Cost:  row.TotalCost,
		}
	}
	return agg, nil
}
