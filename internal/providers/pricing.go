package providers

import (
	"context"
	"errors"
	"net/url"

	"go.uber.org/zap"

	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
)

// PricingClient fetches product pricing from the pricing service over HTTP.
type PricingClient struct {
	http *httpClient
	log  *zap.Logger
}

func NewPricingClient(baseURL string, timeoutMS int, log *zap.Logger) *PricingClient {
	return &PricingClient{
		http: newHTTPClient(baseURL, timeoutMS),
		log:  log.Named("providers.pricing"),
	}
}

func (c *PricingClient) GetProductPricing(
	ctx context.Context,
	productID, userID, subscriptionID string,
) (*pricingdomain.PricingInfo, error) {
	query := url.Values{}
	if userID != "" {
		query.Set("user_id", userID)
	}
	if subscriptionID != "" {
		query.Set("subscription_id", subscriptionID)
	}

	path := "/v1/products/" + url.PathEscape(productID) + "/pricing"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var info pricingdomain.PricingInfo
	err := c.http.getJSON(ctx, path, &info)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		c.log.Warn("pricing lookup failed",
			zap.String("product_id", productID),
			zap.Error(err),
		)
		return nil, err
	}
	return &info, nil
}
