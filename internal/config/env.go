package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("AUTOPILOT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("AUTOPILOT_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	// Database settings
	if host := os.Getenv("AUTOPILOT_DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("AUTOPILOT_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if name := os.Getenv("AUTOPILOT_DB_NAME"); name != "" {
		cfg.Database.Database = name
	}
	if user := os.Getenv("AUTOPILOT_DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if password := os.Getenv("AUTOPILOT_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}

	// Scheduler settings
	if interval := os.Getenv("AUTOPILOT_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Autopilot.Interval = d
		}
	}
	if deadline := os.Getenv("AUTOPILOT_TICK_DEADLINE"); deadline != "" {
		if d, err := time.ParseDuration(deadline); err == nil {
			cfg.Autopilot.TickDeadline = d
		}
	}

	// Webhook settings
	if url := os.Getenv("AUTOPILOT_WEBHOOK_URL"); url != "" {
		cfg.Webhook.URL = url
		cfg.Webhook.Enabled = true
	}

	// Account manager settings
	if base := os.Getenv("AUTOPILOT_ACCOUNTS_URL"); base != "" {
		cfg.Accounts.BaseURL = base
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
