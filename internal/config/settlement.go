package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SettlementConfig holds the tunable knobs of the settlement pipeline and the
// stale-record reconciliation sweep. It is hot-reloadable from settlement.yml.
type SettlementConfig struct {
	CallTimeoutMS int             `mapstructure:"callTimeoutMs"`
	Reconcile     ReconcileConfig `mapstructure:"reconcile"`
}

type ReconcileConfig struct {
	StaleAfterMinutes int `mapstructure:"staleAfterMinutes"`
	IntervalSeconds   int `mapstructure:"intervalSeconds"`
	BatchSize         int `mapstructure:"batchSize"`
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		CallTimeoutMS: 5000,
		Reconcile: ReconcileConfig{
			StaleAfterMinutes: 15,
			IntervalSeconds:   60,
			BatchSize:         50,
		},
	}
}

type SettlementConfigHolder struct {
	current atomic.Value // holds SettlementConfig
}

func NewSettlementConfigHolder() (*SettlementConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("settlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tallyline/config") // Volume-mounted config
	v.AddConfigPath("/etc/tallyline")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("TALLYLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettlementConfig()
	v.SetDefault("settlement.callTimeoutMs", defaults.CallTimeoutMS)
	v.SetDefault("settlement.reconcile.staleAfterMinutes", defaults.Reconcile.StaleAfterMinutes)
	v.SetDefault("settlement.reconcile.intervalSeconds", defaults.Reconcile.IntervalSeconds)
	v.SetDefault("settlement.reconcile.batchSize", defaults.Reconcile.BatchSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg SettlementConfig
	if err := v.UnmarshalKey("settlement", &cfg); err != nil {
		return nil, err
	}
	if err := validateSettlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SettlementConfig
		if err := v.UnmarshalKey("settlement", &updated); err != nil {
			log.Printf("[settlement-config] reload failed: %v", err)
			return
		}
		if err := validateSettlementConfig(updated); err != nil {
			log.Printf("[settlement-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[settlement-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticSettlementConfigHolder pins the holder to cfg without a config
// file or watcher. Used by tests and embedded setups.
func NewStaticSettlementConfigHolder(cfg SettlementConfig) *SettlementConfigHolder {
	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *SettlementConfigHolder) Get() SettlementConfig {
	return h.current.Load().(SettlementConfig)
}

func validateSettlementConfig(cfg SettlementConfig) error {
	if cfg.CallTimeoutMS <= 0 {
		return errors.New("settlement.callTimeoutMs must be positive")
	}
	if cfg.Reconcile.StaleAfterMinutes <= 0 {
		return errors.New("settlement.reconcile.staleAfterMinutes must be positive")
	}
	if cfg.Reconcile.BatchSize <= 0 {
		return errors.New("settlement.reconcile.batchSize must be positive")
	}
	return nil
}
