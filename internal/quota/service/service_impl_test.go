package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	billingrepo "github.com/tallyline/tallyline/internal/billing/repository"
	"github.com/tallyline/tallyline/internal/clock"
	quotadomain "github.com/tallyline/tallyline/internal/quota/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&billingdomain.BillingQuota{}))
	return db
}

func newService(t *testing.T, db *gorm.DB, clk clock.Clock) quotadomain.Service {
	t.Helper()
	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  billingrepo.Provide(),
		Clock: clk,
	})
}

func seedQuota(t *testing.T, db *gorm.DB, node *snowflake.Node, used, limit int64, now time.Time) *billingdomain.BillingQuota {
	t.Helper()
	quota := &billingdomain.BillingQuota{
		ID:             node.Generate(),
		UserID:         "user_1",
		ServiceType:    billingdomain.ServiceTypeAPICall,
		QuotaLimit:     decimal.NewFromInt(limit),
		QuotaUsed:      decimal.NewFromInt(used),
		QuotaRemaining: decimal.NewFromInt(limit - used),
		PeriodStart:    now.Add(-time.Hour),
		PeriodEnd:      now.Add(time.Hour),
	}
	require.NoError(t, db.Create(quota).Error)
	return quota
}

func TestCheck_NoQuotaRowMeansUnlimited(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))

	decision, err := svc.Check(context.Background(), quotadomain.CheckRequest{
		Subject:         billingdomain.QuotaSubject{UserID: "user_1"},
		ServiceType:     billingdomain.ServiceTypeAPICall,
		RequestedAmount: decimal.NewFromInt(1_000_000),
	})
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.True(t, decision.Unlimited)
	assert.EqualValues(t, 0, decision.QuotaID)
}

func TestCheck_AdmitBoundary(t *testing.T) {
	now := time.Now().UTC()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	quota := seedQuota(t, db, node, 900, 1000, now)
	svc := newService(t, db, clock.NewFakeClock(now))
	ctx := context.Background()

	check := func(amount int64) quotadomain.Decision {
		decision, err := svc.Check(ctx, quotadomain.CheckRequest{
			Subject:         billingdomain.QuotaSubject{UserID: "user_1"},
			ServiceType:     billingdomain.ServiceTypeAPICall,
			RequestedAmount: decimal.NewFromInt(amount),
		})
		require.NoError(t, err)
		return decision
	}

	// Exactly the remaining headroom is admitted.
	decision := check(100)
	assert.True(t, decision.Admitted)
	assert.Equal(t, quota.ID, decision.QuotaID)
	assert.True(t, decision.Remaining.Equal(decimal.NewFromInt(100)))

	// One unit over is not.
	decision = check(101)
	assert.False(t, decision.Admitted)
	assert.True(t, decision.Remaining.Equal(decimal.NewFromInt(100)))
}

func TestCheck_InvalidRequests(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))
	ctx := context.Background()

	_, err := svc.Check(ctx, quotadomain.CheckRequest{
		ServiceType:     billingdomain.ServiceTypeAPICall,
		RequestedAmount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, quotadomain.ErrInvalidSubject)

	_, err = svc.Check(ctx, quotadomain.CheckRequest{
		Subject:         billingdomain.QuotaSubject{UserID: "user_1"},
		ServiceType:     billingdomain.ServiceTypeAPICall,
		RequestedAmount: decimal.NewFromInt(-1),
	})
	assert.ErrorIs(t, err, quotadomain.ErrInvalidAmount)
}

func TestCheck_ExpiredQuotaIsUnlimited(t *testing.T) {
	now := time.Now().UTC()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	seedQuota(t, db, node, 1000, 1000, now)

	// Two hours later the period has ended and no quota applies.
	svc := newService(t, db, clock.NewFakeClock(now.Add(2*time.Hour)))
	decision, err := svc.Check(context.Background(), quotadomain.CheckRequest{
		Subject:         billingdomain.QuotaSubject{UserID: "user_1"},
		ServiceType:     billingdomain.ServiceTypeAPICall,
		RequestedAmount: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.True(t, decision.Unlimited)
}

func TestRecordConsumption(t *testing.T) {
	now := time.Now().UTC()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	quota := seedQuota(t, db, node, 100, 1000, now)
	svc := newService(t, db, clock.NewFakeClock(now))
	ctx := context.Background()

	require.NoError(t, svc.RecordConsumption(ctx, quota.ID, decimal.NewFromInt(40)))
	require.NoError(t, svc.RecordConsumption(ctx, quota.ID, decimal.NewFromInt(60)))

	// Zero quota id and non-positive amounts are no-ops.
	require.NoError(t, svc.RecordConsumption(ctx, 0, decimal.NewFromInt(10)))
	require.NoError(t, svc.RecordConsumption(ctx, quota.ID, decimal.Zero))

	var updated billingdomain.BillingQuota
	require.NoError(t, db.First(&updated, "id = ?", quota.ID).Error)
	assert.True(t, updated.QuotaUsed.Equal(decimal.NewFromInt(200)))
	assert.True(t, updated.QuotaRemaining.Equal(decimal.NewFromInt(800)))
}

func TestAdmin_CreateQuota(t *testing.T) {
	now := time.Now().UTC()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	admin := NewAdmin(AdminParams{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(now),
	})
	ctx := context.Background()

	err = admin.CreateQuota(ctx, &billingdomain.BillingQuota{
		ServiceType: billingdomain.ServiceTypeAPICall,
		QuotaLimit:  decimal.NewFromInt(100),
		PeriodStart: now,
		PeriodEnd:   now.Add(time.Hour),
	})
	assert.ErrorIs(t, err, quotadomain.ErrInvalidSubject)

	err = admin.CreateQuota(ctx, &billingdomain.BillingQuota{
		UserID:      "user_1",
		ServiceType: billingdomain.ServiceTypeAPICall,
		QuotaLimit:  decimal.Zero,
		PeriodStart: now,
		PeriodEnd:   now.Add(time.Hour),
	})
	assert.ErrorIs(t, err, quotadomain.ErrInvalidAmount)

	err = admin.CreateQuota(ctx, &billingdomain.BillingQuota{
		UserID:      "user_1",
		ServiceType: billingdomain.ServiceTypeAPICall,
		QuotaLimit:  decimal.NewFromInt(100),
		PeriodStart: now,
		PeriodEnd:   now,
	})
	assert.ErrorIs(t, err, quotadomain.ErrInvalidPeriod)

	quota := &billingdomain.BillingQuota{
		UserID:      "user_1",
		ServiceType: billingdomain.ServiceTypeAPICall,
		QuotaLimit:  decimal.NewFromInt(100),
		QuotaUsed:   decimal.NewFromInt(-5),
		PeriodStart: now,
		PeriodEnd:   now.Add(time.Hour),
	}
	require.NoError(t, admin.CreateQuota(ctx, quota))
	assert.NotEqualValues(t, 0, quota.ID)
	assert.True(t, quota.QuotaUsed.IsZero())
	assert.True(t, quota.QuotaRemaining.Equal(decimal.NewFromInt(100)))

	quotas, err := admin.ListQuotas(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, quotas, 1)
	assert.Equal(t, quota.ID, quotas[0].ID)
}

func TestAdmin_DeleteQuota(t *testing.T) {
	now := time.Now().UTC()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	quota := seedQuota(t, db, node, 0, 100, now)
	admin := NewAdmin(AdminParams{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(now),
	})
	ctx := context.Background()

	assert.ErrorIs(t, admin.DeleteQuota(ctx, "not-a-snowflake"), quotadomain.ErrQuotaNotFound)
	assert.ErrorIs(t, admin.DeleteQuota(ctx, node.Generate().String()), quotadomain.ErrQuotaNotFound)

	require.NoError(t, admin.DeleteQuota(ctx, quota.ID.String()))

	var count int64
	require.NoError(t, db.Model(&billingdomain.BillingQuota{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
