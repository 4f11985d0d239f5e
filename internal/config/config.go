package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Autopilot AutopilotConfig `yaml:"autopilot"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Accounts  AccountsConfig  `yaml:"accounts"`
}

type ServerConfig struct {
	Port     int    `yaml:"port" default:"8080"`
	LogLevel string `yaml:"log_level" default:"info"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// AutopilotConfig tunes the failover scheduler.
type AutopilotConfig struct {
	Interval         time.Duration `yaml:"interval"`           // time between ticks
	TickDeadline     time.Duration `yaml:"tick_deadline"`      // hard budget for one tick
	RuleConcurrency  int           `yaml:"rule_concurrency"`   // rules evaluated in parallel
	ProbeConcurrency int           `yaml:"probe_concurrency"`  // tier probes in parallel per rule
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`      // per-probe timeout
	ProbeRatePerSec  int           `yaml:"probe_rate_per_sec"` // global outbound probe budget
	DefaultCooldown  time.Duration `yaml:"default_cooldown"`   // notification cooldown when a rule has none
	HistoryRetention int           `yaml:"history_retention"`  // max history entries kept
}

type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// AccountsConfig points at the surrounding account-management service.
type AccountsConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "autopilot",
			User:     "autopilot",
			SSLMode:  "disable",
		},
		Autopilot: AutopilotConfig{
			Interval:         60 * time.Second,
			TickDeadline:     45 * time.Second,
			RuleConcurrency:  8,
			ProbeConcurrency: 3,
			ProbeTimeout:     8 * time.Second,
			ProbeRatePerSec:  50,
			DefaultCooldown:  5 * time.Minute,
			HistoryRetention: 1000,
		},
		Webhook: WebhookConfig{
			Timeout: 5 * time.Second,
		},
		Accounts: AccountsConfig{
			BaseURL: "http://localhost:7000",
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML config file and applies environment overrides.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Autopilot.Interval <= 0 {
		return fmt.Errorf("config: autopilot interval must be positive")
	}
	if c.Autopilot.TickDeadline <= 0 || c.Autopilot.TickDeadline > c.Autopilot.Interval {
		return fmt.Errorf("config: tick deadline must be positive and not exceed the interval")
	}
	if c.Autopilot.RuleConcurrency <= 0 {
		return fmt.Errorf("config: rule concurrency must be positive")
	}
	if c.Autopilot.ProbeConcurrency <= 0 {
		return fmt.Errorf("config: probe concurrency must be positive")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("config: webhook enabled without a URL")
	}
	return nil
}
