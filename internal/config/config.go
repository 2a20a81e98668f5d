// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port                 string
	FrontendURL          string
	EngineAddr           string // ws:// URL of the engine daemon
	EngineConnectTimeout time.Duration
	HistoryDir           string
	UploadDir            string
	ProfilePath          string // optional YAML settings profile applied at startup
	EventLog             EventLogConfig
}

// EventLogConfig controls NDJSON socket event logging.
type EventLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("EVENT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8000"),
		FrontendURL:          getEnv("FRONTEND_URL", ""),
		EngineAddr:           getEnv("ENGINE_ADDR", "ws://localhost:9010/engine"),
		EngineConnectTimeout: getEnvDuration("ENGINE_CONNECT_TIMEOUT", 5*time.Second),
		HistoryDir:           getEnv("HISTORY_DIR", "./data/conversations"),
		UploadDir:            getEnv("UPLOAD_DIR", "./data/uploads"),
		ProfilePath:          getEnv("PROFILE_PATH", ""),
		EventLog: EventLogConfig{
			Enabled:   getEnvBool("EVENT_LOG_ENABLED", false),
			Dir:       getEnv("EVENT_LOG_DIR", "./data/logs/events"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.EngineAddr == "" {
		return fmt.Errorf("ENGINE_ADDR cannot be empty")
	}
	if c.HistoryDir == "" {
		return fmt.Errorf("HISTORY_DIR cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.EventLog.Enabled && c.EventLog.Dir == "" {
		return fmt.Errorf("EVENT_LOG_DIR cannot be empty when event logging is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
