package app

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8000"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"60s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	StoreDriver    string        `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	DBQueryTimeout time.Duration `envconfig:"DB_QUERY_TIMEOUT" default:"5s"`

	// RedisAddr empty disables Redis: in-process locks, no dashboard cache, inline seeding.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://127.0.0.1:3000"`

	DashboardCacheTTL  time.Duration `envconfig:"DASHBOARD_CACHE_TTL" default:"1m"`
	DashboardTopN      int           `envconfig:"DASHBOARD_TOP_N" default:"5"`
	SeedBatchSize      int           `envconfig:"SEED_BATCH_SIZE" default:"100"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	IntegrityCron      string        `envconfig:"INTEGRITY_CRON" default:"@every 1h"`
	ConsoleMaxRows     int           `envconfig:"CONSOLE_MAX_ROWS" default:"1000"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules envconfig cannot express.
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be provided when STORE_DRIVER=postgres")
		}
	default:
		return errors.New("STORE_DRIVER must be memory or postgres")
	}
	if c.DashboardTopN <= 0 {
		return errors.New("DASHBOARD_TOP_N must be positive")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c != nil && strings.TrimSpace(c.RedisAddr) != ""
}
