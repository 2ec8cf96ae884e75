package providers

import (
	"context"
	"errors"
	"net/url"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	settlementdomain "github.com/tallyline/tallyline/internal/settlement/domain"
)

type balanceResponse struct {
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
}

// BalanceClient reads wallet and credit balances from the balance service.
type BalanceClient struct {
	http *httpClient
	log  *zap.Logger
}

func NewBalanceClient(baseURL string, timeoutMS int, log *zap.Logger) *BalanceClient {
	return &BalanceClient{
		http: newHTTPClient(baseURL, timeoutMS),
		log:  log.Named("providers.balance"),
	}
}

func (c *BalanceClient) GetWalletBalance(ctx context.Context, userID string) (*settlementdomain.Balance, error) {
	return c.getBalance(ctx, "/v1/users/"+url.PathEscape(userID)+"/wallet")
}

func (c *BalanceClient) GetCreditBalance(ctx context.Context, userID string) (*settlementdomain.Balance, error) {
	return c.getBalance(ctx, "/v1/users/"+url.PathEscape(userID)+"/credits")
}

func (c *BalanceClient) getBalance(ctx context.Context, path string) (*settlementdomain.Balance, error) {
	var resp balanceResponse
	err := c.http.getJSON(ctx, path, &resp)
	if err != nil {
		if errors.Is(err, errNotFound) {
			// No account yet reads as a zero balance.
			return &settlementdomain.Balance{Available: decimal.Zero}, nil
		}
		c.log.Warn("balance lookup failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	currency := billingdomain.Currency(resp.Currency)
	if currency == "" {
		currency = billingdomain.CurrencyCredits
	}
	return &settlementdomain.Balance{
		Available: resp.Available,
		Currency:  currency,
	}, nil
}
