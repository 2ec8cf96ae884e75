package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"github.com/tallyline/tallyline/internal/clock"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/settlement/domain"
)

const (
	reasonInsufficientBalance = "insufficient_balance"
	reasonWalletDeclined      = "wallet_deduction_declined"
	reasonCreditDeclined      = "credit_consumption_declined"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Holder   *config.SettlementConfigHolder
	Repo     billingdomain.Repository
	Balances domain.BalanceProvider
	Executor domain.Executor
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	holder   *config.SettlementConfigHolder
	repo     billingdomain.Repository
	balances domain.BalanceProvider
	executor domain.Executor

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("settlement.service"),
		clock:    p.Clock,
		holder:   p.Holder,
		repo:     p.Repo,
		balances: p.Balances,
		executor: p.Executor,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Settle drives one billing record through its lifecycle. The record must be
// pending. Method selection is a fixed priority with no cascading fallback:
// once a method is chosen its outcome is final for this delivery.
func (s *service) Settle(ctx context.Context, req domain.Request) (*domain.Outcome, error) {
	record := req.Record
	if record == nil {
		return nil, domain.ErrNilRecord
	}
	if record.BillingStatus != billingdomain.StatusPending {
		return nil, domain.ErrRecordNotPending
	}

	// Zero-cost records (free tier) and subscription-covered usage complete
	// without touching any balance system.
	if req.SubscriptionCovers || record.TotalAmount.IsZero() {
		return s.settleZeroCost(ctx, record)
	}

	method, reason, err := s.selectMethod(ctx, record.UserID, record.TotalAmount)
	if err != nil {
		return nil, err
	}

	switch method {
	case billingdomain.MethodWalletDeduction:
		return s.settleWallet(ctx, record)
	case billingdomain.MethodCreditConsumption:
		return s.settleCredit(ctx, record)
	default:
		// Payment charge is out of scope for the synchronous path: the record
		// stays pending with the method stamped for the downstream charger.
		return s.deferPayment(ctx, record, reason)
	}
}

func (s *service) selectMethod(
	ctx context.Context,
	userID string,
	cost decimal.Decimal,
) (billingdomain.BillingMethod, string, error) {
	wallet, err := s.balances.GetWalletBalance(ctx, userID)
	if err != nil {
		s.log.Warn("wallet balance lookup failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return "", "", fmt.Errorf("%w: %v", domain.ErrBalanceUnavailable, err)
	}
	if wallet != nil && wallet.Available.GreaterThanOrEqual(cost) {
		return billingdomain.MethodWalletDeduction, "", nil
	}

	// Stored credit is consulted whatever the record's denomination; the
	// executor converts at consumption time.
	credit, err := s.balances.GetCreditBalance(ctx, userID)
	if err != nil {
		s.log.Warn("credit balance lookup failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return "", "", fmt.Errorf("%w: %v", domain.ErrBalanceUnavailable, err)
	}
	if credit != nil && credit.Available.GreaterThanOrEqual(cost) {
		return billingdomain.MethodCreditConsumption, "", nil
	}

	return billingdomain.MethodPaymentCharge, reasonInsufficientBalance, nil
}

func (s *service) settleZeroCost(ctx context.Context, record *billingdomain.BillingRecord) (*domain.Outcome, error) {
	now := s.clock.Now()
	err := s.repo.UpdateRecordStatus(ctx, s.db, billingdomain.StatusUpdate{
		RecordID:  record.ID,
		From:      billingdomain.StatusPending,
		To:        billingdomain.StatusCompleted,
		Method:    billingdomain.MethodSubscriptionIncluded,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{
		Method: billingdomain.MethodSubscriptionIncluded,
		Status: billingdomain.StatusCompleted,
	}, nil
}

func (s *service) settleWallet(ctx context.Context, record *billingdomain.BillingRecord) (*domain.Outcome, error) {
	if err := s.markProcessing(ctx, record, billingdomain.MethodWalletDeduction); err != nil {
		return nil, err
	}

	reference := s.newReference()
	result, err := s.executeWithTimeout(ctx, func(callCtx context.Context) (*domain.Result, error) {
		return s.executor.DeductWallet(callCtx, record.UserID, record.TotalAmount, record.Currency, reference)
	})
	if err != nil {
		return s.fail(ctx, record, billingdomain.MethodWalletDeduction, err.Error())
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = reasonWalletDeclined
		}
		return s.fail(ctx, record, billingdomain.MethodWalletDeduction, reason)
	}

	err = s.repo.UpdateRecordStatus(ctx, s.db, billingdomain.StatusUpdate{
		RecordID:            record.ID,
		From:                billingdomain.StatusProcessing,
		To:                  billingdomain.StatusCompleted,
		WalletTransactionID: result.TransactionID,
		UpdatedAt:           s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{
		Method:        billingdomain.MethodWalletDeduction,
		Status:        billingdomain.StatusCompleted,
		TransactionID: result.TransactionID,
	}, nil
}

func (s *service) settleCredit(ctx context.Context, record *billingdomain.BillingRecord) (*domain.Outcome, error) {
	if err := s.markProcessing(ctx, record, billingdomain.MethodCreditConsumption); err != nil {
		return nil, err
	}

	reference := s.newReference()
	result, err := s.executeWithTimeout(ctx, func(callCtx context.Context) (*domain.Result, error) {
		return s.executor.ConsumeCredit(callCtx, record.UserID, record.TotalAmount, reference)
	})
	if err != nil {
		return s.fail(ctx, record, billingdomain.MethodCreditConsumption, err.Error())
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = reasonCreditDeclined
		}
		return s.fail(ctx, record, billingdomain.MethodCreditConsumption, reason)
	}

	err = s.repo.UpdateRecordStatus(ctx, s.db, billingdomain.StatusUpdate{
		RecordID:            record.ID,
		From:                billingdomain.StatusProcessing,
		To:                  billingdomain.StatusCompleted,
		WalletTransactionID: result.TransactionID,
		UpdatedAt:           s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{
		Method:        billingdomain.MethodCreditConsumption,
		Status:        billingdomain.StatusCompleted,
		TransactionID: result.TransactionID,
	}, nil
}

func (s *service) deferPayment(ctx context.Context, record *billingdomain.BillingRecord, reason string) (*domain.Outcome, error) {
	// Stamp the method but keep the record pending. The pending -> pending
	// update still runs through the status guard so a concurrent settle
	// cannot race past it.
	err := s.repo.UpdateRecordStatus(ctx, s.db, billingdomain.StatusUpdate{
		RecordID:  record.ID,
		From:      billingdomain.StatusPending,
		To:        billingdomain.StatusPending,
		Method:    billingdomain.MethodPaymentCharge,
		UpdatedAt: s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("settlement deferred to payment charge",
		zap.String("record_id", record.ID.String()),
		zap.String("user_id", record.UserID),
		zap.String("reason", reason),
	)
	return &domain.Outcome{
		Method:   billingdomain.MethodPaymentCharge,
		Status:   billingdomain.StatusPending,
		Deferred: true,
	}, nil
}

func (s *service) markProcessing(ctx context.Context, record *billingdomain.BillingRecord, method billingdomain.BillingMethod) error {
	return s.repo.UpdateRecordStatus(ctx, s.db, billingdomain.StatusUpdate{
		RecordID:  record.ID,
		From:      billingdomain.StatusPending,
		To:        billingdomain.StatusProcessing,
		Method:    method,
		UpdatedAt: s.clock.Now(),
	})
}

func (s *service) fail(
	ctx context.Context,
	record *billingdomain.BillingRecord,
	method billingdomain.BillingMethod,
	reason string,
) (*domain.Outcome, error) {
	err := s.repo.UpdateRecordStatus(ctx, s.db, billingdomain.StatusUpdate{
		RecordID:      record.ID,
		From:          billingdomain.StatusProcessing,
		To:            billingdomain.StatusFailed,
		FailureReason: reason,
		UpdatedAt:     s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn("settlement failed",
		zap.String("record_id", record.ID.String()),
		zap.String("billing_method", string(method)),
		zap.String("reason", reason),
	)
	return &domain.Outcome{
		Method:        method,
		Status:        billingdomain.StatusFailed,
		FailureReason: reason,
	}, nil
}

func (s *service) executeWithTimeout(
	ctx context.Context,
	call func(context.Context) (*domain.Result, error),
) (*domain.Result, error) {
	timeout := time.Duration(s.holder.Get().CallTimeoutMS) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := call(callCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecutionFailed, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty result", domain.ErrExecutionFailed)
	}
	return result, nil
}

func (s *service) newReference() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return "stl_" + ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String()
}
