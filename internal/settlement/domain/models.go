package domain

import (
	"context"

	"github.com/shopspring/decimal"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
)

// Balance is a point-in-time snapshot of a spendable balance.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Currency  billingdomain.Currency `json:"currency"`
}

// BalanceProvider reads wallet and credit balances for a user.
type BalanceProvider interface {
	GetWalletBalance(ctx context.Context, userID string) (*Balance, error)
	GetCreditBalance(ctx context.Context, userID string) (*Balance, error)
}

// Result is the outcome of an executed deduction.
type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error,omitempty"`
}

// Executor performs the actual balance mutations on the owning systems.
type Executor interface {
	DeductWallet(ctx context.Context, userID string, amount decimal.Decimal, currency billingdomain.Currency, reference string) (*Result, error)
	ConsumeCredit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*Result, error)
}

// Request carries everything the settlement flow needs about one record.
type Request struct {
	Record             *billingdomain.BillingRecord
	SubscriptionCovers bool
}

// Outcome reports what happened to the record.
type Outcome struct {
	Method        billingdomain.BillingMethod `json:"billing_method"`
	Status        billingdomain.BillingStatus `json:"billing_status"`
	TransactionID string                      `json:"transaction_id,omitempty"`
	FailureReason string                      `json:"failure_reason,omitempty"`
	Deferred      bool                        `json:"deferred"`
}

// Service settles a pending billing record exactly once.
type Service interface {
	Settle(ctx context.Context, req Request) (*Outcome, error)
}
