package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port          string // default: 8080
	PublicBaseURL string // used to build the provider callback address

	// Storage
	StoreDriver string // "postgres" or "memory"
	PostgresDSN string

	// Cache
	RedisAddr string

	// Catalog
	CatalogPath string

	// Provider
	KieAPIKey       string
	KieBaseURL      string
	ProviderTimeout time.Duration
	CallbackToken   string

	// Payments
	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	StripePriceIDs      map[string]string // pack id -> stripe price id

	// Admin / cron
	CronSecret string

	// Quotas
	SubmitRateLimit       int64 // submissions per user per minute, default: 30
	StandardWeeklyCredits int64
	FreeJobRetention      time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PublicBaseURL:        os.Getenv("PUBLIC_BASE_URL"),
		StoreDriver:          getEnv("STORE_DRIVER", "postgres"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		CatalogPath:          getEnv("CATALOG_PATH", "catalog"),
		KieAPIKey:            os.Getenv("KIE_API_KEY"),
		KieBaseURL:           getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		CallbackToken:        os.Getenv("CALLBACK_TOKEN"),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:   getEnv("CHECKOUT_SUCCESS_URL", "https://bananoai.app/payment-success?session_id={CHECKOUT_SESSION_ID}"),
		CheckoutCancelURL:    getEnv("CHECKOUT_CANCEL_URL", "https://bananoai.app/payment-cancel"),
		CronSecret:           os.Getenv("CRON_SECRET"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		StripePriceIDs: map[string]string{
			"pack_1000":  os.Getenv("STRIPE_PRICE_ID_1000"),
			"pack_5000":  os.Getenv("STRIPE_PRICE_ID_5000"),
			"pack_10000": os.Getenv("STRIPE_PRICE_ID_10000"),
		},
	}

	var err error
	if cfg.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.FreeJobRetention, err = getDuration("FREE_JOB_RETENTION", 4380*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SubmitRateLimit, err = getInt("SUBMIT_RATE_LIMIT", 30); err != nil {
		return nil, err
	}
	if cfg.StandardWeeklyCredits, err = getInt("STANDARD_WEEKLY_CREDITS", 50); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the required settings for the selected store driver.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q (want postgres or memory)", c.StoreDriver)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.SubmitRateLimit <= 0 {
		return fmt.Errorf("SUBMIT_RATE_LIMIT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int64) (int64, error) {
	v, err := strconv.ParseInt(getEnv(key, strconv.FormatInt(fallback, 10)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
