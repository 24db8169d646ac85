// Package config loads process configuration from INFLIGHT_* environment
// variables. Command-line flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration.
type Config struct {
	// BaseURL is the backend root used when no manifest names one.
	BaseURL string `env:"INFLIGHT_BASE_URL" envDefault:"http://localhost:8080"`

	// Manifest is an optional path to a CUE or YAML area manifest.
	Manifest string `env:"INFLIGHT_MANIFEST"`

	// Journal is an optional SQLite path for the lifecycle journal.
	Journal string `env:"INFLIGHT_JOURNAL"`

	// MetricsAddr serves /metrics when set (e.g. ":9090").
	MetricsAddr string `env:"INFLIGHT_METRICS_ADDR"`

	// SweepInterval is the collector tick.
	SweepInterval time.Duration `env:"INFLIGHT_SWEEP_INTERVAL" envDefault:"30s"`

	// RetentionTTL is the retention applied by watch on cleanup. Zero removes
	// records immediately.
	RetentionTTL time.Duration `env:"INFLIGHT_RETENTION_TTL" envDefault:"0s"`

	// Token is the bearer credential sent with every request.
	Token string `env:"INFLIGHT_TOKEN"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `env:"INFLIGHT_LOG_LEVEL" envDefault:"info"`

	// Trace exports OpenTelemetry spans to stderr.
	Trace bool `env:"INFLIGHT_TRACE" envDefault:"false"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("INFLIGHT_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
	}
	if c.RetentionTTL < 0 {
		errs = append(errs, fmt.Errorf("INFLIGHT_RETENTION_TTL must not be negative, got %s", c.RetentionTTL))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level, or Info if it is invalid.
func (c Config) SlogLevel() slog.Level {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLevel parses a log level name.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
