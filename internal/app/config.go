package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (MARKET_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (MARKET_API_KEY_PEPPER)" flag:"api-key-pepper"`

	CommissionRate string `default:"0.10" usage:"Platform commission rate taken from each order's payable amount" flag:"commission-rate"`
	PointsEarnRate string `default:"0.01" usage:"Loyalty points earned per unit of completed order total" flag:"points-earn-rate"`

	Payment   PaymentConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// PaymentConfig controls the payment processor client and retry policy.
type PaymentConfig struct {
	BaseURL     string        `usage:"Payment processor base URL" flag:"payment-base-url"`
	APIKey      string        `usage:"Payment processor API key" flag:"payment-api-key"`
	Timeout     time.Duration `default:"10s" usage:"Per-call capture timeout"`
	MaxAttempts int           `default:"3"   usage:"Capture attempts per order before giving up" flag:"payment-max-attempts"`
	Backoff     time.Duration `default:"500ms" usage:"Initial capture retry backoff, doubled per attempt" flag:"payment-backoff"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/market/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
	}
	if _, err := decimal.NewFromString(cfg.CommissionRate); err != nil {
		return nil, errors.Wrap(err, "parse commission rate")
	}
	if _, err := decimal.NewFromString(cfg.PointsEarnRate); err != nil {
		return nil, errors.Wrap(err, "parse points earn rate")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's MARKET_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
