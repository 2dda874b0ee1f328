// Package config loads the runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the full configuration surface of the discovery core.
type Config struct {
	Channels Channels
	Run      Run
	Scoring  Scoring
	Storage  Storage
}

// Channels configures the three source channels.
type Channels struct {
	SummaryBaseURL  string        `env:"SUMMARY_BASE_URL" envDefault:"https://api.macdiscount.com"`
	SearchBaseURL   string        `env:"SEARCH_BASE_URL" envDefault:"https://api.macdiscount.com"`
	RenderedBaseURL string        `env:"RENDERED_BASE_URL" envDefault:"https://www.mac.bid"`
	LiveFeedURL     string        `env:"LIVE_FEED_URL"`
	SummaryRate     float64       `env:"SUMMARY_RATE" envDefault:"2"` // requests per second
	SearchRate      float64       `env:"SEARCH_RATE" envDefault:"2"`
	RenderedRate    float64       `env:"RENDERED_RATE" envDefault:"1"`
	Timeout         time.Duration `env:"CHANNEL_TIMEOUT" envDefault:"30s"`
	PageSize        int           `env:"CHANNEL_PAGE_SIZE" envDefault:"100"`
}

// Run configures per-run behavior.
type Run struct {
	Concurrency         int           `env:"RUN_CONCURRENCY" envDefault:"5"`
	AugmentBatch        int           `env:"AUGMENT_BATCH" envDefault:"50"`
	BidFreshness        time.Duration `env:"BID_FRESHNESS" envDefault:"15m"`
	Locations           []string      `env:"LOCATIONS" envSeparator:","`
	ExcludeSameDayClose bool          `env:"EXCLUDE_SAME_DAY_CLOSE" envDefault:"false"`
	NotifyMinScore      float64       `env:"NOTIFY_MIN_SCORE" envDefault:"0.7"`
	NotifyMinRetail     float64       `env:"NOTIFY_MIN_RETAIL" envDefault:"0"`
	MetricsAddr         string        `env:"METRICS_ADDR"` // e.g. :9090; empty disables the endpoint
}

// Scoring configures the opportunity score weights.
type Scoring struct {
	DiscountWeight float64 `env:"SCORE_DISCOUNT_WEIGHT" envDefault:"0.5"`
	ScarcityWeight float64 `env:"SCORE_SCARCITY_WEIGHT" envDefault:"0.3"`
	NoBidWeight    float64 `env:"SCORE_NOBID_WEIGHT" envDefault:"0.2"`
}

// Storage configures the backing stores. Empty DSNs select the
// in-memory implementations.
type Storage struct {
	PostgresDSN   string `env:"POSTGRES_DSN"`
	ClickhouseDSN string `env:"CLICKHOUSE_DSN"`
}

// Load reads configuration from the environment, honoring a local
// .env file when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("env.Parse: %w", err)
	}
	return config, nil
}
