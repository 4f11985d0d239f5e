package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Autopilot.Interval)
	assert.Equal(t, 45*time.Second, cfg.Autopilot.TickDeadline)
	assert.Equal(t, 8, cfg.Autopilot.RuleConcurrency)
	assert.Equal(t, 3, cfg.Autopilot.ProbeConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.Autopilot.DefaultCooldown)
	assert.Equal(t, 1000, cfg.Autopilot.HistoryRetention)
	assert.False(t, cfg.Webhook.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default().Autopilot, cfg.Autopilot)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "autopilot.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
autopilot:
  rule_concurrency: 4
  history_retention: 250
webhook:
  url: https://hooks.example.com/abc
  enabled: true
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 4, cfg.Autopilot.RuleConcurrency)
		assert.Equal(t, 250, cfg.Autopilot.HistoryRetention)
		// untouched keys keep their defaults
		assert.Equal(t, 3, cfg.Autopilot.ProbeConcurrency)
		assert.True(t, cfg.Webhook.Enabled)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("AUTOPILOT_PORT", "7777")
		t.Setenv("AUTOPILOT_INTERVAL", "2m")
		t.Setenv("AUTOPILOT_TICK_DEADLINE", "90s")
		t.Setenv("AUTOPILOT_WEBHOOK_URL", "https://hooks.example.com/env")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 7777, cfg.Server.Port)
		assert.Equal(t, 2*time.Minute, cfg.Autopilot.Interval)
		assert.Equal(t, 90*time.Second, cfg.Autopilot.TickDeadline)
		assert.True(t, cfg.Webhook.Enabled)
		assert.Equal(t, "https://hooks.example.com/env", cfg.Webhook.URL)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Autopilot.Interval = 0 }},
		{"deadline exceeds interval", func(c *Config) { c.Autopilot.TickDeadline = 2 * c.Autopilot.Interval }},
		{"zero rule concurrency", func(c *Config) { c.Autopilot.RuleConcurrency = 0 }},
		{"zero probe concurrency", func(c *Config) { c.Autopilot.ProbeConcurrency = 0 }},
		{"webhook enabled without url", func(c *Config) { c.Webhook.Enabled = true }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("AUTOPILOT_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnvOrDefault("AUTOPILOT_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("AUTOPILOT_TEST_MISSING", "fallback"))
}
