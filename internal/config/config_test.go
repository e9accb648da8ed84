package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosight/echosight/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Server.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Requests.ManualTimeout)
	assert.Equal(t, 8*time.Second, cfg.Requests.RealtimeTimeout)
	assert.NotEqual(t, cfg.Requests.ManualTimeout, cfg.Requests.RealtimeTimeout,
		"the two timeout tiers must be independent values")
	assert.Equal(t, 2, cfg.Requests.MaxConcurrentRequests)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 60, cfg.Requests.MinConfidence)
	assert.Equal(t, 95, cfg.Requests.MaxConfidence)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "echosight.yaml")
	content := `
server:
  base_url: http://vision.local:9000
  model: test-model
requests:
  manual_timeout: 12s
  max_concurrent_requests: 1
realtime:
  interval: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://vision.local:9000", cfg.Server.BaseURL)
	assert.Equal(t, "test-model", cfg.Server.Model)
	assert.Equal(t, 12*time.Second, cfg.Requests.ManualTimeout)
	assert.Equal(t, 1, cfg.Requests.MaxConcurrentRequests)
	assert.Equal(t, time.Second, cfg.Realtime.Interval)
	// Untouched values keep their defaults.
	assert.Equal(t, 8*time.Second, cfg.Requests.RealtimeTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ECHOSIGHT_SERVER_BASE_URL", "http://env.local:8000")
	t.Setenv("ECHOSIGHT_REQUESTS_MAX_CONCURRENT_REQUESTS", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://env.local:8000", cfg.Server.BaseURL)
	assert.Equal(t, 4, cfg.Requests.MaxConcurrentRequests)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base URL", func(c *Config) { c.Server.BaseURL = "" }},
		{"zero manual timeout", func(c *Config) { c.Requests.ManualTimeout = 0 }},
		{"zero concurrency", func(c *Config) { c.Requests.MaxConcurrentRequests = 0 }},
		{"inverted confidence band", func(c *Config) {
			c.Requests.MinConfidence = 96
			c.Requests.MaxConfidence = 95
		}},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"zero realtime interval", func(c *Config) { c.Realtime.Interval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
