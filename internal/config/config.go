// Package config loads client configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all client configuration.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Backend API
	BackendBaseURL string        `envconfig:"CHAT_BACKEND_URL" default:"http://localhost:8000"`
	BackendToken   string        `envconfig:"CHAT_BACKEND_TOKEN"`
	HTTPTimeout    time.Duration `envconfig:"CHAT_HTTP_TIMEOUT" default:"30s"`

	// Attachments
	MaxAttachments   int   `envconfig:"CHAT_MAX_ATTACHMENTS" default:"10"`
	MaxAttachmentMB  int64 `envconfig:"CHAT_MAX_ATTACHMENT_MB" default:"25"`

	// Retry policy for persistence calls
	RetryMaxAttempts int           `envconfig:"CHAT_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"CHAT_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay    time.Duration `envconfig:"CHAT_RETRY_MAX_DELAY" default:"10s"`

	// Metrics endpoint (empty disables the listener)
	MetricsListenAddr string `envconfig:"CHAT_METRICS_ADDR"`

	// Mock backend
	MockListenAddr   string `envconfig:"CHAT_MOCK_ADDR" default:":8000"`
	MockScenarioPath string `envconfig:"CHAT_MOCK_SCENARIO"`
}

// MaxAttachmentBytes returns the combined attachment size limit in bytes.
func (c *Config) MaxAttachmentBytes() int64 {
	return c.MaxAttachmentMB * 1024 * 1024
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
