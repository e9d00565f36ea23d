package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ReelGate.
// It contains all configuration sections for admission control, generation
// job handling, storage, retention, and telemetry.
type Config struct {
	// Admission contains configuration for the admission pipeline:
	// per-category rate limits, the monthly budget ceiling, and the
	// response cache.
	Admission AdmissionConfig `yaml:"admission"`

	// Generation contains configuration for asynchronous generation jobs.
	Generation GenerationConfig `yaml:"generation"`

	// Server configures the HTTP API surface consumed by the BrightReel
	// route layer.
	Server ServerConfig `yaml:"server"`

	// Storage selects and configures the persistence backend for the
	// spend ledger and job records.
	Storage StorageConfig `yaml:"storage"`

	// Retention configures scheduled pruning of aged ledger rows and
	// terminal jobs.
	Retention RetentionConfig `yaml:"retention"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AdmissionConfig configures the gates in front of every billed AI call.
type AdmissionConfig struct {
	// RateCategories maps a request category (e.g. "text", "image",
	// "video") to its token-bucket parameters. A request for an
	// unconfigured category is admitted without a rate check.
	RateCategories map[string]RateCategoryConfig `yaml:"rate_categories"`

	// BucketIdleTTL is how long a (principal, category) bucket may sit
	// idle before the sweeper may reclaim it. Reclaiming a bucket resets
	// the principal to a full bucket, which is safe but generous.
	// Default: 30m
	BucketIdleTTL time.Duration `yaml:"bucket_idle_ttl"`

	// MonthlyBudgetUSD is the per-principal spend ceiling for the current
	// calendar month. Zero disables budget checking.
	// Default: 500
	MonthlyBudgetUSD float64 `yaml:"monthly_budget_usd"`

	// Cache configures the response memoization cache.
	Cache CacheConfig `yaml:"cache"`
}

// RateCategoryConfig contains token-bucket parameters for one category.
type RateCategoryConfig struct {
	// Capacity is the maximum burst size (tokens).
	Capacity float64 `yaml:"capacity"`

	// RefillPerMinute is how many tokens are restored per minute.
	RefillPerMinute float64 `yaml:"refill_per_minute"`
}

// CacheConfig configures the deterministic response cache.
type CacheConfig struct {
	// TTL is how long a cached response stays visible.
	// Default: 1h
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries caps the number of cached responses. Oldest entries are
	// evicted first when the cap is exceeded.
	// Default: 1000
	MaxEntries int `yaml:"max_entries"`
}

// GenerationConfig configures asynchronous generation job handling.
type GenerationConfig struct {
	// BackendURL is the base URL of the hosted generative service.
	// The API key is read from the REELGATE_BACKEND_TOKEN environment
	// variable, never from this file.
	BackendURL string `yaml:"backend_url"`

	// SubmitTimeout bounds how long a backend submission may take before
	// the attempt is recorded as failed.
	// Default: 30s
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	// MaxRetries caps explicit retries per job. Zero means unlimited;
	// the retry count is always recorded either way.
	MaxRetries int `yaml:"max_retries"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port for the API server.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 120s (submissions can block on the backend for a while)
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file path (backend=sqlite only).
	Path string `yaml:"path"`
}

// RetentionConfig configures the scheduled pruner.
type RetentionConfig struct {
	// Schedule is a standard cron expression. Empty disables pruning.
	// Example: "0 3 * * *" (daily at 3 AM).
	Schedule string `yaml:"schedule"`

	// LedgerMonths is how many closed calendar months of spend history to
	// keep in addition to the current month.
	// Default: 3
	LedgerMonths int `yaml:"ledger_months"`

	// JobRetention is how long terminal jobs are kept before pruning.
	// Default: 720h (30 days)
	JobRetention time.Duration `yaml:"job_retention"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// MetricsListenAddress is where the /metrics and /healthz endpoints
	// are served. Empty disables the telemetry server.
	// Default: "127.0.0.1:9090"
	MetricsListenAddress string `yaml:"metrics_listen_address"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error". Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: "json"
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied and a standard
// set of rate categories. Useful for tests and zero-config startup.
func Default() *Config {
	cfg := &Config{
		Admission: AdmissionConfig{
			RateCategories: map[string]RateCategoryConfig{
				"text":  {Capacity: 30, RefillPerMinute: 30},
				"image": {Capacity: 15, RefillPerMinute: 15},
				"video": {Capacity: 10, RefillPerMinute: 10},
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Admission.BucketIdleTTL == 0 {
		c.Admission.BucketIdleTTL = 30 * time.Minute
	}
	if c.Admission.MonthlyBudgetUSD == 0 {
		c.Admission.MonthlyBudgetUSD = 500
	}
	if c.Admission.Cache.TTL == 0 {
		c.Admission.Cache.TTL = time.Hour
	}
	if c.Admission.Cache.MaxEntries == 0 {
		c.Admission.Cache.MaxEntries = 1000
	}
	if c.Generation.SubmitTimeout == 0 {
		c.Generation.SubmitTimeout = 30 * time.Second
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Retention.LedgerMonths == 0 {
		c.Retention.LedgerMonths = 3
	}
	if c.Retention.JobRetention == 0 {
		c.Retention.JobRetention = 720 * time.Hour
	}
	if c.Telemetry.Logging.Level == "" {
		c.Telemetry.Logging.Level = "info"
	}
	if c.Telemetry.Logging.Format == "" {
		c.Telemetry.Logging.Format = "json"
	}
	if c.Telemetry.MetricsListenAddress == "" {
		c.Telemetry.MetricsListenAddress = "127.0.0.1:9090"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	for name, cat := range c.Admission.RateCategories {
		if cat.Capacity <= 0 {
			return fmt.Errorf("rate category %q: capacity must be positive, got %v", name, cat.Capacity)
		}
		if cat.RefillPerMinute <= 0 {
			return fmt.Errorf("rate category %q: refill_per_minute must be positive, got %v", name, cat.RefillPerMinute)
		}
	}
	if c.Admission.MonthlyBudgetUSD < 0 {
		return fmt.Errorf("monthly_budget_usd cannot be negative, got %v", c.Admission.MonthlyBudgetUSD)
	}
	if c.Admission.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries cannot be negative, got %d", c.Admission.Cache.MaxEntries)
	}
	if c.Generation.SubmitTimeout <= 0 {
		return fmt.Errorf("generation submit_timeout must be positive, got %v", c.Generation.SubmitTimeout)
	}
	if c.Generation.MaxRetries < 0 {
		return fmt.Errorf("generation max_retries cannot be negative, got %d", c.Generation.MaxRetries)
	}
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (expected memory or sqlite)", c.Storage.Backend)
	}
	switch c.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Telemetry.Logging.Level)
	}
	switch c.Telemetry.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Telemetry.Logging.Format)
	}
	return nil
}
