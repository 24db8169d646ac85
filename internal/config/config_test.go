package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Zero(t, cfg.RetentionTTL)
	assert.Empty(t, cfg.Journal)
	assert.False(t, cfg.Trace)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("INFLIGHT_BASE_URL", "https://api.example.test")
	t.Setenv("INFLIGHT_MANIFEST", "areas.cue")
	t.Setenv("INFLIGHT_JOURNAL", "/tmp/journal.db")
	t.Setenv("INFLIGHT_METRICS_ADDR", ":9090")
	t.Setenv("INFLIGHT_SWEEP_INTERVAL", "5s")
	t.Setenv("INFLIGHT_RETENTION_TTL", "1m")
	t.Setenv("INFLIGHT_TOKEN", "secret")
	t.Setenv("INFLIGHT_LOG_LEVEL", "debug")
	t.Setenv("INFLIGHT_TRACE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Config{
		BaseURL:       "https://api.example.test",
		Manifest:      "areas.cue",
		Journal:       "/tmp/journal.db",
		MetricsAddr:   ":9090",
		SweepInterval: 5 * time.Second,
		RetentionTTL:  time.Minute,
		Token:         "secret",
		LogLevel:      "debug",
		Trace:         true,
	}, cfg)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable duration", "INFLIGHT_SWEEP_INTERVAL", "soon"},
		{"zero interval", "INFLIGHT_SWEEP_INTERVAL", "0s"},
		{"negative retention", "INFLIGHT_RETENTION_TTL", "-1s"},
		{"unknown level", "INFLIGHT_LOG_LEVEL", "chatty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	level, err = ParseLevel("error")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, level)
}
