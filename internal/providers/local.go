package providers

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/shopspring/decimal"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
	settlementdomain "github.com/tallyline/tallyline/internal/settlement/domain"
	subscriptiondomain "github.com/tallyline/tallyline/internal/subscription/domain"
)

// Local providers back the pipeline when no collaborator base URL is
// configured. They exist for development and tests: every product is free,
// wallets are bottomless, and deductions always succeed.

type localPricing struct{}

func (localPricing) GetProductPricing(ctx context.Context, productID, userID, subscriptionID string) (*pricingdomain.PricingInfo, error) {
	zero := decimal.Zero
	return &pricingdomain.PricingInfo{
		UnitPrice: &zero,
		Currency:  string(billingdomain.CurrencyCredits),
	}, nil
}

type localSubscription struct{}

func (localSubscription) GetSubscriptionInfo(ctx context.Context, subscriptionID string) (*subscriptiondomain.SubscriptionInfo, error) {
	return nil, nil
}

type localBalances struct{}

func (localBalances) GetWalletBalance(ctx context.Context, userID string) (*settlementdomain.Balance, error) {
	return &settlementdomain.Balance{
		Available: decimal.NewFromInt(1_000_000_000),
		Currency:  billingdomain.CurrencyCredits,
	}, nil
}

func (localBalances) GetCreditBalance(ctx context.Context, userID string) (*settlementdomain.Balance, error) {
	return &settlementdomain.Balance{
		Available: decimal.NewFromInt(1_000_000_000),
		Currency:  billingdomain.CurrencyCredits,
	}, nil
}

type localExecutor struct {
	seq atomic.Int64
}

func (e *localExecutor) DeductWallet(ctx context.Context, userID string, amount decimal.Decimal, currency billingdomain.Currency, reference string) (*settlementdomain.Result, error) {
	return e.approve(), nil
}

func (e *localExecutor) ConsumeCredit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*settlementdomain.Result, error) {
	return e.approve(), nil
}

func (e *localExecutor) approve() *settlementdomain.Result {
	return &settlementdomain.Result{
		Success:       true,
		TransactionID: "local_tx_" + strconv.FormatInt(e.seq.Add(1), 10),
	}
}
