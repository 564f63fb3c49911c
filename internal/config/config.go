// Package config loads configuration in three layers: built-in defaults,
// an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/pbaille/journal/internal/classifier"
	"github.com/pbaille/journal/internal/jobs"
	"github.com/pbaille/journal/internal/logging"
	"github.com/pbaille/journal/internal/pipeline"
	"github.com/pbaille/journal/internal/store"
)

// ConfigPathEnvVar names the YAML file when --config is not given
const ConfigPathEnvVar = "CONFIG_PATH"

type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Analysis AnalysisConfig `koanf:"analysis"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type DatabaseConfig struct {
	Driver        string `koanf:"driver" validate:"oneof=sqlite3 sqlite"`
	Path          string `koanf:"path" validate:"required"`
	BusyTimeoutMs int    `koanf:"busy_timeout_ms" validate:"gte=0"`
}

type AnalysisConfig struct {
	BaseURL         string        `koanf:"base_url" validate:"required,url"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gtfield=ConnectTimeout"`
	HealthCheck     bool          `koanf:"health_check"`
	FallbackEnabled bool          `koanf:"fallback_enabled"`
	RateLimit       float64       `koanf:"rate_limit" validate:"gte=0"`
	RateBurst       int           `koanf:"rate_burst" validate:"gte=0"`
	Breaker         BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `koanf:"max_requests"`
	Interval            time.Duration `koanf:"interval"`
	Timeout             time.Duration `koanf:"timeout"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures" validate:"gt=0"`
}

type JobsConfig struct {
	Workers      int           `koanf:"workers" validate:"gte=1,lte=64"`
	MaxAttempts  int           `koanf:"max_attempts" validate:"gte=1"`
	BackoffBase  time.Duration `koanf:"backoff_base" validate:"gt=0"`
	BackoffMax   time.Duration `koanf:"backoff_max" validate:"gtefield=BackoffBase"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
	StaleAfter   time.Duration `koanf:"stale_after" validate:"gt=0"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	cc := classifier.DefaultConfig()
	bc := classifier.DefaultBreakerConfig()
	jc := jobs.DefaultConfig()

	return &Config{
		Database: DatabaseConfig{
			Driver:        store.DriverCGO,
			Path:          defaultDBPath(),
			BusyTimeoutMs: 5000,
		},
		Analysis: AnalysisConfig{
			BaseURL:         cc.BaseURL,
			ConnectTimeout:  cc.ConnectTimeout,
			RequestTimeout:  cc.RequestTimeout,
			HealthCheck:     true,
			FallbackEnabled: true,
			Breaker: BreakerConfig{
				MaxRequests:         bc.MaxRequests,
				Interval:            bc.Interval,
				Timeout:             bc.Timeout,
				ConsecutiveFailures: bc.ConsecutiveFailures,
			},
		},
		Jobs: JobsConfig{
			Workers:      jc.Workers,
			MaxAttempts:  jc.MaxAttempts,
			BackoffBase:  jc.BackoffBase,
			BackoffMax:   jc.BackoffMax,
			PollInterval: jc.PollInterval,
			StaleAfter:   jc.StaleAfter,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "journal.db"
	}
	return filepath.Join(home, ".journal", "journal.db")
}

// Load reads defaults, then path (or $CONFIG_PATH) if set, then the environment.
// Precedence is env > file > defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var envMappings = map[string]string{
	// Database
	"journal_db_driver":  "database.driver",
	"journal_db_path":    "database.path",
	"journal_db_busy_ms": "database.busy_timeout_ms",

	// Analysis service; JOURNAL_ANALYSIS_API_URL is the name the service was first deployed with
	"journal_analysis_api_url":  "analysis.base_url",
	"analysis_base_url":         "analysis.base_url",
	"analysis_connect_timeout":  "analysis.connect_timeout",
	"analysis_request_timeout":  "analysis.request_timeout",
	"analysis_health_check":     "analysis.health_check",
	"analysis_fallback_enabled": "analysis.fallback_enabled",
	"analysis_rate_limit":       "analysis.rate_limit",
	"analysis_rate_burst":       "analysis.rate_burst",
	"analysis_breaker_failures": "analysis.breaker.consecutive_failures",
	"analysis_breaker_timeout":  "analysis.breaker.timeout",

	// Jobs
	"jobs_workers":       "jobs.workers",
	"jobs_max_attempts":  "jobs.max_attempts",
	"jobs_backoff_base":  "jobs.backoff_base",
	"jobs_backoff_max":   "jobs.backoff_max",
	"jobs_poll_interval": "jobs.poll_interval",
	"jobs_stale_after":   "jobs.stale_after",

	// Server
	"http_addr":             "server.addr",
	"http_shutdown_timeout": "server.shutdown_timeout",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps known environment variables to config paths and
// drops everything else
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Validate checks struct constraints, then the rules that span sections
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	// a job still waiting on the service must not look abandoned
	if c.Jobs.StaleAfter <= c.Analysis.RequestTimeout {
		return fmt.Errorf("jobs.stale_after (%s) must exceed analysis.request_timeout (%s)",
			c.Jobs.StaleAfter, c.Analysis.RequestTimeout)
	}
	return nil
}

// ClassifierConfig is the explicit client configuration
func (c *Config) ClassifierConfig() classifier.Config {
	return classifier.Config{
		BaseURL:        c.Analysis.BaseURL,
		ConnectTimeout: c.Analysis.ConnectTimeout,
		RequestTimeout: c.Analysis.RequestTimeout,
		RateLimit:      c.Analysis.RateLimit,
		RateBurst:      c.Analysis.RateBurst,
	}
}

func (c *Config) BreakerConfig() classifier.BreakerConfig {
	return classifier.BreakerConfig{
		Name:                "analysis-service",
		MaxRequests:         c.Analysis.Breaker.MaxRequests,
		Interval:            c.Analysis.Breaker.Interval,
		Timeout:             c.Analysis.Breaker.Timeout,
		ConsecutiveFailures: c.Analysis.Breaker.ConsecutiveFailures,
	}
}

func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		HealthCheck:     c.Analysis.HealthCheck,
		FallbackEnabled: c.Analysis.FallbackEnabled,
	}
}

func (c *Config) JobsConfig() jobs.Config {
	return jobs.Config{
		Workers:      c.Jobs.Workers,
		MaxAttempts:  c.Jobs.MaxAttempts,
		BackoffBase:  c.Jobs.BackoffBase,
		BackoffMax:   c.Jobs.BackoffMax,
		PollInterval: c.Jobs.PollInterval,
		StaleAfter:   c.Jobs.StaleAfter,
	}
}

func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:        c.Database.Driver,
		Path:          c.Database.Path,
		BusyTimeoutMs: c.Database.BusyTimeoutMs,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Caller: c.Logging.Caller,
	}
}
