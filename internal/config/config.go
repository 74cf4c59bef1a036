// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates Authwatch configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables, with environment taking the highest precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Authwatch server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	TCP       TCPConfig       `koanf:"tcp"`
	Database  DatabaseConfig  `koanf:"database"`
	Detection DetectionConfig `koanf:"detection"`
	Model     ModelConfig     `koanf:"model"`
	Features  FeaturesConfig  `koanf:"features"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// TCPConfig configures the raw TCP ingestion gateway.
type TCPConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	MaxConnections int    `koanf:"max_connections"`
	// MaxLineBytes bounds a single newline-delimited event payload.
	MaxLineBytes int `koanf:"max_line_bytes"`
}

// DatabaseConfig configures the DuckDB persistence layer.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count. 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// DetectionConfig configures the detection loop.
type DetectionConfig struct {
	TickInterval       time.Duration `koanf:"tick_interval"`
	TrainingWindow     int           `koanf:"training_window"`
	RetrainInterval    time.Duration `koanf:"retrain_interval"`
	RetrainAfterScored int           `koanf:"retrain_after_scored"`
}

// ModelConfig configures model training.
type ModelConfig struct {
	MinTrainingSize int     `koanf:"min_training_size"`
	Contamination   float64 `koanf:"contamination"`
	Trees           int     `koanf:"trees"`
	SampleSize      int     `koanf:"sample_size"`
}

// FeaturesConfig configures feature extraction.
type FeaturesConfig struct {
	// KnownUsers is the allow-list of expected account names; logins by
	// anyone else carry the rare-user feature.
	KnownUsers []string `koanf:"known_users"`
	// MaxTrackedIPs bounds the seen-IP set. 0 is unbounded.
	MaxTrackedIPs int `koanf:"max_tracked_ips"`
}

// AlertsConfig configures alert notification.
type AlertsConfig struct {
	WebhookURL              string        `koanf:"webhook_url"`
	NotifyTimeout           time.Duration `koanf:"notify_timeout"`
	WebhookFailureThreshold uint32        `koanf:"webhook_failure_threshold"`
	WebhookCooldown         time.Duration `koanf:"webhook_cooldown"`
	// RecentLimit is the default page size for the recent-alerts endpoint.
	RecentLimit int `koanf:"recent_limit"`
	// StatsWindow is the trailing window for alert statistics.
	StatsWindow time.Duration `koanf:"stats_window"`
}

// APIConfig configures the REST API surface.
type APIConfig struct {
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	MaxPageSize       int           `koanf:"max_page_size"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults. These are applied first and
// overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		TCP: TCPConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           9999,
			MaxConnections: 256,
			MaxLineBytes:   64 * 1024,
		},
		Database: DatabaseConfig{
			Path:      "/data/authwatch.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Detection: DetectionConfig{
			TickInterval:       10 * time.Second,
			TrainingWindow:     1000,
			RetrainInterval:    6 * time.Hour,
			RetrainAfterScored: 0,
		},
		Model: ModelConfig{
			MinTrainingSize: 50,
			Contamination:   0.1,
			Trees:           100,
			SampleSize:      256,
		},
		Features: FeaturesConfig{
			KnownUsers:    []string{"ubuntu", "ec2-user", "admin", "deploy"},
			MaxTrackedIPs: 100000,
		},
		Alerts: AlertsConfig{
			WebhookURL:              "",
			NotifyTimeout:           2 * time.Second,
			WebhookFailureThreshold: 5,
			WebhookCooldown:         30 * time.Second,
			RecentLimit:             50,
			StatsWindow:             24 * time.Hour,
		},
		API: APIConfig{
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
			MaxPageSize:       500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.TCP.Enabled {
		if c.TCP.Port < 1 || c.TCP.Port > 65535 {
			return fmt.Errorf("tcp.port %d out of range", c.TCP.Port)
		}
		if c.TCP.Port == c.Server.Port {
			return fmt.Errorf("tcp.port and server.port both set to %d", c.TCP.Port)
		}
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Detection.TickInterval < time.Second {
		return fmt.Errorf("detection.tick_interval %s below 1s minimum", c.Detection.TickInterval)
	}
	if c.Model.MinTrainingSize < 2 {
		return fmt.Errorf("model.min_training_size %d below 2 minimum", c.Model.MinTrainingSize)
	}
	if c.Model.Contamination <= 0 || c.Model.Contamination >= 1 {
		return fmt.Errorf("model.contamination %v must be in (0, 1)", c.Model.Contamination)
	}
	if c.Detection.TrainingWindow < c.Model.MinTrainingSize {
		return fmt.Errorf("detection.training_window %d smaller than model.min_training_size %d",
			c.Detection.TrainingWindow, c.Model.MinTrainingSize)
	}
	return nil
}
