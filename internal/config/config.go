// Package config loads datacat's runtime configuration from the environment,
// the way adred-codev-ws_poc's server config.go does: caarlos0/env parses a
// tagged struct, an optional .env file seeds the process environment first,
// and Validate fails fast on anything spec.md §7 calls a configuration error.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment variable recognised by spec.md §6.3.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,expand"`

	RateLimitPerMinute int `env:"DATACAT_RATE_LIMIT_PER_MINUTE" envDefault:"2400"`
	MaxConcurrent      int `env:"DATACAT_MAX_CONCURRENT" envDefault:"20"`

	HTTPProxy string `env:"DATACAT_HTTP_PROXY"`

	BackfillMode      string `env:"BACKFILL_MODE" envDefault:"none"` // none|days|all
	BackfillDays      int    `env:"BACKFILL_DAYS" envDefault:"7"`
	BackfillStartDate string `env:"BACKFILL_START_DATE"`
	BackfillOnStart   bool   `env:"BACKFILL_ON_START" envDefault:"false"`

	SymbolsExclude []string `env:"SYMBOLS_EXCLUDE" envSeparator:","`
	SymbolsExtra   []string `env:"SYMBOLS_EXTRA" envSeparator:","`
	SymbolsGroups  []string `env:"SYMBOLS_GROUPS" envSeparator:","`

	LogLevel  string `env:"DATACAT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DATACAT_LOG_FORMAT" envDefault:"plain"` // plain|json
	LogFile   string `env:"DATACAT_LOG_FILE"`
	LogDir    string `env:"DATACAT_LOG_DIR"`

	DataDir      string `env:"DATACAT_DATA_DIR" envDefault:"./data"`
	JSONSinkDir  string `env:"DATACAT_JSON_SINK_DIR"`
	MaxCacheDays int    `env:"DATACAT_MAX_CACHE_DAYS" envDefault:"7"`

	WSGapIntervalSeconds int `env:"DATACAT_WS_GAP_INTERVAL_SECONDS" envDefault:"60"`
	WSGapLookbackMinutes int `env:"DATACAT_WS_GAP_LOOKBACK_MINUTES" envDefault:"2880"` // 2 days

	MetricsWorkers  int `env:"DATACAT_METRICS_WORKERS" envDefault:"8"`
	BackfillWorkers int `env:"DATACAT_BACKFILL_WORKERS" envDefault:"5"`

	MaxBufferCandles int `env:"DATACAT_MAX_BUFFER" envDefault:"1000"`
	FlushWindowMs    int `env:"DATACAT_FLUSH_WINDOW_MS" envDefault:"3000"`

	// RESTSnapshotOnStart runs one REST metrics tick before the WS/gap-watcher
	// loop starts. Kept strictly opt-in; see spec.md §9 "use_rest_snapshot".
	RESTSnapshotOnStart bool `env:"DATACAT_REST_SNAPSHOT_ON_START" envDefault:"false"`

	MetricsListenAddr string `env:"DATACAT_METRICS_ADDR" envDefault:":9108"`
}

// Load reads a .env file (if present, best-effort) then parses the process
// environment into a Config, and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if v := cfg.DatabaseURL; v == "" {
		// DATACAT_DATABASE_URL is the documented alias for DATABASE_URL.
		alt := struct {
			URL string `env:"DATACAT_DATABASE_URL,expand"`
		}{}
		if err := env.Parse(&alt); err == nil {
			cfg.DatabaseURL = alt.URL
		}
	}

	if err := cfg.clampAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// clampAndValidate enforces the hard caps from spec.md §4.1 and rejects
// nonsensical values (a configuration error per spec.md §7).
func (c *Config) clampAndValidate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL (or DATACAT_DATABASE_URL) is required")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("config: DATACAT_RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.RateLimitPerMinute > 2400 {
		c.RateLimitPerMinute = 2400
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("config: DATACAT_MAX_CONCURRENT must be > 0")
	}
	if c.MaxConcurrent > 20 {
		c.MaxConcurrent = 20
	}
	switch c.BackfillMode {
	case "none", "days", "all":
	default:
		return fmt.Errorf("config: BACKFILL_MODE must be one of none|days|all, got %q", c.BackfillMode)
	}
	switch c.LogFormat {
	case "plain", "json":
	default:
		return fmt.Errorf("config: DATACAT_LOG_FORMAT must be plain|json, got %q", c.LogFormat)
	}
	return nil
}
