package providers

import (
	"context"
	"errors"
	"net/url"

	"go.uber.org/zap"

	subscriptiondomain "github.com/tallyline/tallyline/internal/subscription/domain"
)

// SubscriptionClient fetches subscription terms from the subscription service.
type SubscriptionClient struct {
	http *httpClient
	log  *zap.Logger
}

func NewSubscriptionClient(baseURL string, timeoutMS int, log *zap.Logger) *SubscriptionClient {
	return &SubscriptionClient{
		http: newHTTPClient(baseURL, timeoutMS),
		log:  log.Named("providers.subscription"),
	}
}

func (c *SubscriptionClient) GetSubscriptionInfo(
	ctx context.Context,
	subscriptionID string,
) (*subscriptiondomain.SubscriptionInfo, error) {
	var info subscriptiondomain.SubscriptionInfo
	err := c.http.getJSON(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), &info)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		c.log.Warn("subscription lookup failed",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err),
		)
		return nil, err
	}
	return &info, nil
}
