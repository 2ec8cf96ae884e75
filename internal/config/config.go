package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTelEnabled  bool
	OTLPEndpoint string

	Logger LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	Providers ProviderConfig

	Ingest IngestConfig
}

type LoggerConfig struct {
	Level string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ProviderConfig carries base URLs for the collaborator services the billing
// core calls (pricing, subscription terms, wallet/credit balances, settlement).
type ProviderConfig struct {
	PricingBaseURL      string
	SubscriptionBaseURL string
	BalanceBaseURL      string
	SettlementBaseURL   string
	RequestTimeoutMS    int
}

type IngestConfig struct {
	Workers        int
	DedupeCacheCap int
	EventChannel   string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "tallyline"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTelEnabled:  getenvBool("OTEL_ENABLED", false),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tallyline"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},

		Providers: ProviderConfig{
			PricingBaseURL:      strings.TrimSpace(getenv("PRICING_SERVICE_URL", "")),
			SubscriptionBaseURL: strings.TrimSpace(getenv("SUBSCRIPTION_SERVICE_URL", "")),
			BalanceBaseURL:      strings.TrimSpace(getenv("BALANCE_SERVICE_URL", "")),
			SettlementBaseURL:   strings.TrimSpace(getenv("SETTLEMENT_SERVICE_URL", "")),
			RequestTimeoutMS:    getenvInt("PROVIDER_REQUEST_TIMEOUT_MS", 5000),
		},

		Ingest: IngestConfig{
			Workers:        getenvInt("INGEST_WORKERS", 8),
			DedupeCacheCap: getenvInt("INGEST_DEDUPE_CACHE_CAP", 10000),
			EventChannel:   getenv("INGEST_EVENT_CHANNEL", "usage.events"),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
