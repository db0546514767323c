package qdrant

import (
	"fmt"
	"time"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host           string        `json:"host"`
	HTTPPort       int           `json:"http_port"`
	APIKey         string        `json:"api_key"`
	Timeout        time.Duration `json:"timeout"`
	DefaultLimit   int           `json:"default_limit"`
	ScoreThreshold float32       `json:"score_threshold"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		HTTPPort:     6333,
		Timeout:      30 * time.Second,
		DefaultLimit: 10,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DefaultLimit < 1 {
		return fmt.Errorf("default_limit must be at least 1")
	}
	return nil
}

// GetHTTPURL returns the base URL for the REST API
func (c *Config) GetHTTPURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.HTTPPort)
}
