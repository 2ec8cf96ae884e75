package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&billingdomain.BillingRecord{},
		&billingdomain.BillingEvent{},
		&billingdomain.BillingQuota{},
	))
	return db
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func testRecord(node *snowflake.Node, usageRecordID string) *billingdomain.BillingRecord {
	now := time.Now().UTC()
	return &billingdomain.BillingRecord{
		ID:            node.Generate(),
		UserID:        "user_1",
		UsageRecordID: usageRecordID,
		ProductID:     "prod_1",
		ServiceType:   billingdomain.ServiceTypeAPICall,
		UsageAmount:   decimal.NewFromInt(100),
		UnitPrice:     decimal.RequireFromString("0.002"),
		TotalAmount:   decimal.RequireFromString("0.2"),
		Currency:      billingdomain.CurrencyCredits,
		BillingMethod: billingdomain.MethodWalletDeduction,
		BillingStatus: billingdomain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateRecord_DuplicateUsageRecordID(t *testing.T) {
	db := newTestDB(t)
	node := newNode(t)
	repo := Provide()
	ctx := context.Background()

	first := testRecord(node, "evt_1")
	inserted, err := repo.CreateRecord(ctx, db, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same usage_record_id, different snowflake id: must be a no-op.
	second := testRecord(node, "evt_1")
	inserted, err = repo.CreateRecord(ctx, db, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, db.Model(&billingdomain.BillingRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	found, err := repo.FindRecordByUsageRecordID(ctx, db, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
}

func TestUpdateRecordStatus_GuardsTransitions(t *testing.T) {
	db := newTestDB(t)
	node := newNode(t)
	repo := Provide()
	ctx := context.Background()

	record := testRecord(node, "evt_1")
	_, err := repo.CreateRecord(ctx, db, record)
	require.NoError(t, err)

	// pending -> processing succeeds.
	err = repo.UpdateRecordStatus(ctx, db, billingdomain.StatusUpdate{
		RecordID: record.ID,
		From:     billingdomain.StatusPending,
		To:       billingdomain.StatusProcessing,
		Method:   billingdomain.MethodWalletDeduction,
	})
	require.NoError(t, err)

	// pending -> completed no longer applies: status moved on.
	err = repo.UpdateRecordStatus(ctx, db, billingdomain.StatusUpdate{
		RecordID: record.ID,
		From:     billingdomain.StatusPending,
		To:       billingdomain.StatusCompleted,
	})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidTransition)

	// processing -> completed with transaction id.
	err = repo.UpdateRecordStatus(ctx, db, billingdomain.StatusUpdate{
		RecordID:            record.ID,
		From:                billingdomain.StatusProcessing,
		To:                  billingdomain.StatusCompleted,
		WalletTransactionID: "tx_1",
	})
	require.NoError(t, err)

	found, err := repo.FindRecordByID(ctx, db, record.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, billingdomain.StatusCompleted, found.BillingStatus)
	assert.Equal(t, "tx_1", found.WalletTransactionID)

	// A stale worker still holding the processing view loses the race.
	err = repo.UpdateRecordStatus(ctx, db, billingdomain.StatusUpdate{
		RecordID:      record.ID,
		From:          billingdomain.StatusProcessing,
		To:            billingdomain.StatusFailed,
		FailureReason: "settlement_timeout",
	})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidTransition)
}

func TestListStaleProcessing(t *testing.T) {
	db := newTestDB(t)
	node := newNode(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := testRecord(node, "evt_stale")
	stale.BillingStatus = billingdomain.StatusProcessing
	stale.UpdatedAt = now.Add(-30 * time.Minute)
	require.NoError(t, db.Create(stale).Error)

	fresh := testRecord(node, "evt_fresh")
	fresh.BillingStatus = billingdomain.StatusProcessing
	fresh.UpdatedAt = now.Add(-1 * time.Minute)
	require.NoError(t, db.Create(fresh).Error)

	done := testRecord(node, "evt_done")
	done.BillingStatus = billingdomain.StatusCompleted
	done.UpdatedAt = now.Add(-30 * time.Minute)
	require.NoError(t, db.Create(done).Error)

	records, err := repo.ListStaleProcessing(ctx, db, now.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "evt_stale", records[0].UsageRecordID)
}

func TestGetQuota_SpecificityAndPeriod(t *testing.T) {
	db := newTestDB(t)
	node := newNode(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	mkQuota := func(user, org, sub string, limit int64, start time.Time) *billingdomain.BillingQuota {
		return &billingdomain.BillingQuota{
			ID:             node.Generate(),
			UserID:         user,
			OrganizationID: org,
			SubscriptionID: sub,
			ServiceType:    billingdomain.ServiceTypeAPICall,
			QuotaLimit:     decimal.NewFromInt(limit),
			QuotaUsed:      decimal.Zero,
			QuotaRemaining: decimal.NewFromInt(limit),
			PeriodStart:    start,
			PeriodEnd:      start.Add(30 * 24 * time.Hour),
		}
	}

	require.NoError(t, db.Create(mkQuota("user_1", "", "", 100, now.Add(-time.Hour))).Error)
	require.NoError(t, db.Create(mkQuota("user_1", "org_1", "", 200, now.Add(-time.Hour))).Error)
	require.NoError(t, db.Create(mkQuota("user_1", "org_1", "sub_1", 300, now.Add(-time.Hour))).Error)

	subject := billingdomain.QuotaSubject{UserID: "user_1", OrganizationID: "org_1", SubscriptionID: "sub_1"}

	quota, err := repo.GetQuota(ctx, db, subject, billingdomain.ServiceTypeAPICall, now)
	require.NoError(t, err)
	require.NotNil(t, quota)
	assert.True(t, quota.QuotaLimit.Equal(decimal.NewFromInt(300)), "subscription quota wins")

	// Without a subscription the organization quota applies.
	quota, err = repo.GetQuota(ctx, db, billingdomain.QuotaSubject{UserID: "user_1", OrganizationID: "org_1"},
		billingdomain.ServiceTypeAPICall, now)
	require.NoError(t, err)
	require.NotNil(t, quota)
	assert.True(t, quota.QuotaLimit.Equal(decimal.NewFromInt(200)))

	// Outside the period there is no active quota.
	quota, err = repo.GetQuota(ctx, db, subject, billingdomain.ServiceTypeAPICall, now.Add(60*24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, quota)

	// A service type with no quota row is unlimited.
	quota, err = repo.GetQuota(ctx, db, subject, billingdomain.ServiceTypeStorage, now)
	require.NoError(t, err)
	assert.Nil(t, quota)
}

func TestIncrementQuotaUsed_KeepsRemainingConsistent(t *testing.T) {
	db := newTestDB(t)
	node := newNode(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	quota := &billingdomain.BillingQuota{
		ID:             node.Generate(),
		UserID:         "user_1",
		ServiceType:    billingdomain.ServiceTypeAPICall,
		QuotaLimit:     decimal.NewFromInt(1000),
		QuotaUsed:      decimal.NewFromInt(100),
		QuotaRemaining: decimal.NewFromInt(900),
		PeriodStart:    now.Add(-time.Hour),
		PeriodEnd:      now.Add(time.Hour),
	}
	require.NoError(t, db.Create(quota).Error)

	require.NoError(t, repo.IncrementQuotaUsed(ctx, db, quota.ID, decimal.NewFromInt(250)))

	var updated billingdomain.BillingQuota
	require.NoError(t, db.First(&updated, "id = ?", quota.ID).Error)
	assert.True(t, updated.QuotaUsed.Equal(decimal.NewFromInt(350)))
	assert.True(t, updated.QuotaRemaining.Equal(decimal.NewFromInt(650)))
}

func TestGetUsageAggregations_ExcludesFailed(t *testing.T) {
	db := newTestDB(t)
	node := newNode(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	completed := testRecord(node, "evt_ok")
	completed.BillingStatus = billingdomain.StatusCompleted
	completed.CreatedAt = now.Add(-time.Hour)
	require.NoError(t, db.Create(completed).Error)

	failed := testRecord(node, "evt_bad")
	failed.BillingStatus = billingdomain.StatusFailed
	failed.CreatedAt = now.Add(-time.Hour)
	require.NoError(t, db.Create(failed).Error)

	storage := testRecord(node, "evt_storage")
	storage.ServiceType = billingdomain.ServiceTypeStorage
	storage.UsageAmount = decimal.NewFromInt(5)
	storage.TotalAmount = decimal.NewFromInt(1)
	storage.BillingStatus = billingdomain.StatusCompleted
	storage.CreatedAt = now.Add(-time.Hour)
	require.NoError(t, db.Create(storage).Error)

	agg, err := repo.GetUsageAggregations(ctx, db, "user_1", now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	require.NotNil(t, agg)

	assert.True(t, agg.TotalUsage.Equal(decimal.NewFromInt(105)), "got %s", agg.TotalUsage)
	assert.True(t, agg.TotalCost.Equal(decimal.RequireFromString("1.2")), "got %s", agg.TotalCost)
	assert.Len(t, agg.UsageBreakdown, 2)
	assert.True(t, agg.UsageBreakdown[billingdomain.ServiceTypeAPICall].Usage.Equal(decimal.NewFromInt(100)))
	assert.True(t, agg.UsageBreakdown[billingdomain.ServiceTypeStorage].Cost.Equal(decimal.NewFromInt(1)))
}
