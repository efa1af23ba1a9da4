// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration for the server
type Config struct {
	Port             string `env:"PORT"                 envDefault:"8080"`
	DBPath           string `env:"DB_PATH"              envDefault:"./tcg_portfolio.db"`
	DBDebug          bool   `env:"DB_DEBUG"             envDefault:"false"`
	DataDir          string `env:"POKEMON_DATA_DIR"     envDefault:"./data"`
	FrontendDistPath string `env:"FRONTEND_DIST_PATH"   envDefault:"../frontend/dist"`
	CORSOrigins      string `env:"CORS_ALLOWED_ORIGINS"`

	// Sealed product price API
	SealedAPIURL         string  `env:"SEALED_API_URL"`
	SealedAPIKey         string  `env:"SEALED_API_KEY"`
	SealedAPIRPS         float64 `env:"SEALED_API_RPS"         envDefault:"2"`
	SealedConversionRate string  `env:"SEALED_CONVERSION_RATE" envDefault:"1.08"`

	// Search behavior
	SourceTimeout   time.Duration `env:"SOURCE_TIMEOUT"    envDefault:"8s"`
	ResultCacheSize int           `env:"RESULT_CACHE_SIZE" envDefault:"512"`
	FacetMemoSize   int           `env:"FACET_MEMO_SIZE"   envDefault:"64"`
	FilterDebounce  time.Duration `env:"FILTER_DEBOUNCE"   envDefault:"75ms"`
	SessionCapacity int           `env:"SESSION_CAPACITY"  envDefault:"1024"`
	ExcludedSets    []string      `env:"EXCLUDED_EXPANSIONS" envSeparator:","`

	// Price feed polled by the background price worker; disabled when empty
	PriceFeedURL        string        `env:"PRICE_FEED_URL"`
	PriceFeedAPIKey     string        `env:"PRICE_FEED_API_KEY"`
	PriceFeedDailyLimit int           `env:"PRICE_FEED_DAILY_LIMIT" envDefault:"100"`
	PriceUpdateInterval time.Duration `env:"PRICE_UPDATE_INTERVAL"  envDefault:"15m"`
	PriceBatchSize      int           `env:"PRICE_BATCH_SIZE"       envDefault:"100"`

	// Optional infrastructure
	RedisURL           string `env:"REDIS_URL"`
	AMQPURL            string `env:"AMQP_URL"`
	AMQPExchangePrefix string `env:"AMQP_EXCHANGE_PREFIX" envDefault:"tcg"`

	// Identity fallback when no X-User-ID header is sent
	DefaultUserID string `env:"DEFAULT_USER_ID" envDefault:"local"`

	// How often the snapshot worker checks for a missing daily snapshot
	SnapshotCheckInterval time.Duration `env:"SNAPSHOT_CHECK_INTERVAL" envDefault:"15m"`
}

// Load parses environment variables into a Config
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ResultCacheSize < 1 {
		return fmt.Errorf("config: RESULT_CACHE_SIZE must be positive, got %d", c.ResultCacheSize)
	}
	if c.FacetMemoSize < 1 {
		return fmt.Errorf("config: FACET_MEMO_SIZE must be positive, got %d", c.FacetMemoSize)
	}
	if c.SessionCapacity < 1 {
		return fmt.Errorf("config: SESSION_CAPACITY must be positive, got %d", c.SessionCapacity)
	}
	if c.SourceTimeout <= 0 {
		return fmt.Errorf("config: SOURCE_TIMEOUT must be positive, got %s", c.SourceTimeout)
	}
	if c.SealedAPIRPS <= 0 {
		return fmt.Errorf("config: SEALED_API_RPS must be positive, got %v", c.SealedAPIRPS)
	}
	if c.PriceFeedURL != "" && c.PriceBatchSize < 1 {
		return fmt.Errorf("config: PRICE_BATCH_SIZE must be positive, got %d", c.PriceBatchSize)
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS. Empty means allow all.
func (c *Config) AllowedOrigins() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
