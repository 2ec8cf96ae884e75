package providers

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	settlementdomain "github.com/tallyline/tallyline/internal/settlement/domain"
)

type deductionRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Reference string          `json:"reference"`
}

type deductionResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error,omitempty"`
}

// SettlementClient executes wallet deductions and credit consumption against
// the balance-owning service. The settlement reference doubles as the
// idempotency key so a retried call cannot double-charge.
type SettlementClient struct {
	http *httpClient
	log  *zap.Logger
}

func NewSettlementClient(baseURL string, timeoutMS int, log *zap.Logger) *SettlementClient {
	return &SettlementClient{
		http: newHTTPClient(baseURL, timeoutMS),
		log:  log.Named("providers.settlement"),
	}
}

func (c *SettlementClient) DeductWallet(
	ctx context.Context,
	userID string,
	amount decimal.Decimal,
	currency billingdomain.Currency,
	reference string,
) (*settlementdomain.Result, error) {
	req := deductionRequest{
		UserID:    userID,
		Amount:    amount,
		Currency:  string(currency),
		Reference: reference,
	}
	return c.execute(ctx, "/v1/wallet/deduct", req, reference)
}

func (c *SettlementClient) ConsumeCredit(
	ctx context.Context,
	userID string,
	amount decimal.Decimal,
	reference string,
) (*settlementdomain.Result, error) {
	req := deductionRequest{
		UserID:    userID,
		Amount:    amount,
		Reference: reference,
	}
	return c.execute(ctx, "/v1/credits/consume", req, reference)
}

func (c *SettlementClient) execute(
	ctx context.Context,
	path string,
	req deductionRequest,
	reference string,
) (*settlementdomain.Result, error) {
	var resp deductionResponse
	if err := c.http.postJSON(ctx, path, req, &resp, reference); err != nil {
		c.log.Warn("settlement call failed",
			zap.String("path", path),
			zap.String("reference", reference),
			zap.Error(err),
		)
		return nil, err
	}
	return &settlementdomain.Result{
		Success:       resp.Success,
		TransactionID: resp.TransactionID,
		Error:         resp.Error,
	}, nil
}
