package cache

import (
	"strings"
	"time"

	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
	subscriptiondomain "github.com/tallyline/tallyline/internal/subscription/domain"
)

const (
	defaultPricingTTL      = 10 * time.Minute
	defaultSubscriptionTTL = 45 * time.Second
	defaultDedupeTTL       = 30 * time.Minute
)

// PipelineCache stores hot-path lookups for the billing pipeline: resolved
// product pricing, subscription terms, and a bounded set of recently
// processed usage event ids. The dedupe set is a fast path only; the
// authoritative idempotency guard is the unique index on usage_record_id.
type PipelineCache interface {
	GetPricing(productID, subscriptionID string) (*pricingdomain.ProductPricing, bool)
	SetPricing(productID, subscriptionID string, pricing *pricingdomain.ProductPricing)
	GetSubscription(subscriptionID string) (*subscriptiondomain.SubscriptionInfo, bool)
	SetSubscription(subscriptionID string, info *subscriptiondomain.SubscriptionInfo)
	SeenEvent(eventID string) bool
	MarkEventProcessed(eventID string)
}

type pipelineCache struct {
	pricing       Cache[string, *pricingdomain.ProductPricing]
	subscriptions Cache[string, *subscriptiondomain.SubscriptionInfo]
	processed     Cache[string, struct{}]
	pricingTTL    time.Duration
	subTTL        time.Duration
	dedupeTTL     time.Duration
}

// NewPipelineCache returns an in-memory cache tuned for event ingestion.
// dedupeCap bounds the processed-event set.
func NewPipelineCache(dedupeCap int) PipelineCache {
	return &pipelineCache{
		pricing:       NewTTLCache[string, *pricingdomain.ProductPricing](0),
		subscriptions: NewTTLCache[string, *subscriptiondomain.SubscriptionInfo](0),
		processed:     NewTTLCache[string, struct{}](dedupeCap),
		pricingTTL:    defaultPricingTTL,
		subTTL:        defaultSubscriptionTTL,
		dedupeTTL:     defaultDedupeTTL,
	}
}

func (c *pipelineCache) GetPricing(productID, subscriptionID string) (*pricingdomain.ProductPricing, bool) {
	return c.pricing.Get(cacheKey(productID, subscriptionID))
}

func (c *pipelineCache) SetPricing(productID, subscriptionID string, pricing *pricingdomain.ProductPricing) {
	if pricing == nil {
		return
	}
	c.pricing.Set(cacheKey(productID, subscriptionID), pricing, c.pricingTTL)
}

func (c *pipelineCache) GetSubscription(subscriptionID string) (*subscriptiondomain.SubscriptionInfo, bool) {
	return c.subscriptions.Get(cacheKey(subscriptionID))
}

func (c *pipelineCache) SetSubscription(subscriptionID string, info *subscriptiondomain.SubscriptionInfo) {
	if info == nil {
		return
	}
	c.subscriptions.Set(cacheKey(subscriptionID), info, c.subTTL)
}

func (c *pipelineCache) SeenEvent(eventID string) bool {
	_, ok := c.processed.Get(cacheKey(eventID))
	return ok
}

func (c *pipelineCache) MarkEventProcessed(eventID string) {
	key := cacheKey(eventID)
	if key == "" {
		return
	}
	c.processed.Set(key, struct{}{}, c.dedupeTTL)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
