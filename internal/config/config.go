package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the service configuration, sourced from the environment.
type Config struct {
	HTTPAddr string

	NATSURL     string
	DatabaseURL string
	RedisAddr   string
	VenueURL    string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	JWTSecret string
	RootAdmin string

	BaseAsset        string
	BaseAssetFeedRef string
	NativeAsset      string
	WrappedNative    string

	Capacity        decimal.Decimal
	WithdrawalLimit decimal.Decimal

	RateLimitWindow time.Duration
	RateLimitMax    int
}

// FromEnv loads configuration from the environment, reading a .env file
// first when present.
func FromEnv() (*Config, error) {
	// Best effort; production deployments set real environment variables.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		NATSURL:          os.Getenv("NATS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		VenueURL:         os.Getenv("VENUE_URL"),
		InfluxURL:        os.Getenv("INFLUX_URL"),
		InfluxToken:      os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:        getenv("INFLUX_ORG", "assetvault"),
		InfluxBucket:     getenv("INFLUX_BUCKET", "vault_ops"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		RootAdmin:        os.Getenv("ROOT_ADMIN"),
		BaseAsset:        getenv("BASE_ASSET", "settlement"),
		BaseAssetFeedRef: getenv("BASE_ASSET_FEED", "settlement-usd"),
		NativeAsset:      getenv("NATIVE_ASSET", "native"),
		WrappedNative:    getenv("WRAPPED_NATIVE", "wnative"),
		RateLimitWindow:  time.Minute,
		RateLimitMax:     300,
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.RootAdmin == "" {
		return nil, fmt.Errorf("ROOT_ADMIN is required")
	}
	if cfg.VenueURL == "" {
		return nil, fmt.Errorf("VENUE_URL is required")
	}

	var err error
	cfg.Capacity, err = decimal.NewFromString(getenv("VAULT_CAPACITY", "1000000"))
	if err != nil {
		return nil, fmt.Errorf("invalid VAULT_CAPACITY: %w", err)
	}
	cfg.WithdrawalLimit, err = decimal.NewFromString(getenv("WITHDRAWAL_LIMIT", "10000"))
	if err != nil {
		return nil, fmt.Errorf("invalid WITHDRAWAL_LIMIT: %w", err)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
