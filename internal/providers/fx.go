package providers

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tallyline/tallyline/internal/config"
	pricingdomain "github.com/tallyline/tallyline/internal/pricing/domain"
	settlementdomain "github.com/tallyline/tallyline/internal/settlement/domain"
	subscriptiondomain "github.com/tallyline/tallyline/internal/subscription/domain"
)

func ProvidePricing(cfg config.Config, log *zap.Logger) pricingdomain.Provider {
	if cfg.Providers.PricingBaseURL == "" {
		log.Warn("pricing base URL not set, using local pricing provider")
		return localPricing{}
	}
	return NewPricingClient(cfg.Providers.PricingBaseURL, cfg.Providers.RequestTimeoutMS, log)
}

func ProvideSubscription(cfg config.Config, log *zap.Logger) subscriptiondomain.Provider {
	if cfg.Providers.SubscriptionBaseURL == "" {
		log.Warn("subscription base URL not set, using local subscription provider")
		return localSubscription{}
	}
	return NewSubscriptionClient(cfg.Providers.SubscriptionBaseURL, cfg.Providers.RequestTimeoutMS, log)
}

func ProvideBalances(cfg config.Config, log *zap.Logger) settlementdomain.BalanceProvider {
	if cfg.Providers.BalanceBaseURL == "" {
		log.Warn("balance base URL not set, using local balance provider")
		return localBalances{}
	}
	return NewBalanceClient(cfg.Providers.BalanceBaseURL, cfg.Providers.RequestTimeoutMS, log)
}

func ProvideExecutor(cfg config.Config, log *zap.Logger) settlementdomain.Executor {
	if cfg.Providers.SettlementBaseURL == "" {
		log.Warn("settlement base URL not set, using local settlement executor")
		return &localExecutor{}
	}
	return NewSettlementClient(cfg.Providers.SettlementBaseURL, cfg.Providers.RequestTimeoutMS, log)
}

var Module = fx.Module("providers",
	fx.Provide(
		ProvidePricing,
		ProvideSubscription,
		ProvideBalances,
		ProvideExecutor,
	),
)
