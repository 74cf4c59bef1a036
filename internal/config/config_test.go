// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Detection.TickInterval != 10*time.Second {
		t.Errorf("default tick interval = %v, want 10s", cfg.Detection.TickInterval)
	}
	if cfg.Model.MinTrainingSize != 50 {
		t.Errorf("default min training size = %d, want 50", cfg.Model.MinTrainingSize)
	}
	if cfg.Model.Contamination != 0.1 {
		t.Errorf("default contamination = %v, want 0.1", cfg.Model.Contamination)
	}
	if len(cfg.Features.KnownUsers) == 0 {
		t.Error("default known users list is empty")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Detection.RetrainInterval != 6*time.Hour {
		t.Errorf("detection.retrain_interval = %v, want 6h", cfg.Detection.RetrainInterval)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DETECTION_TICK_INTERVAL", "15s")
	t.Setenv("MODEL_MIN_TRAINING_SIZE", "100")
	t.Setenv("FEATURES_KNOWN_USERS", "alice, bob,carol")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Detection.TickInterval != 15*time.Second {
		t.Errorf("detection.tick_interval = %v, want 15s", cfg.Detection.TickInterval)
	}
	if cfg.Model.MinTrainingSize != 100 {
		t.Errorf("model.min_training_size = %d, want 100", cfg.Model.MinTrainingSize)
	}
	want := []string{"alice", "bob", "carol"}
	if len(cfg.Features.KnownUsers) != len(want) {
		t.Fatalf("known users = %v, want %v", cfg.Features.KnownUsers, want)
	}
	for i, u := range want {
		if cfg.Features.KnownUsers[i] != u {
			t.Errorf("known_users[%d] = %q, want %q", i, cfg.Features.KnownUsers[i], u)
		}
	}
}

func TestConfigFileOverridesDefaultsAndEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 7070\ndetection:\n  tick_interval: 20s\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("DETECTION_TICK_INTERVAL", "25s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070 from file", cfg.Server.Port)
	}
	if cfg.Detection.TickInterval != 25*time.Second {
		t.Errorf("detection.tick_interval = %v, want env override 25s", cfg.Detection.TickInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"tcp port collision", func(c *Config) { c.TCP.Port = c.Server.Port }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"sub-second tick", func(c *Config) { c.Detection.TickInterval = 100 * time.Millisecond }},
		{"contamination out of range", func(c *Config) { c.Model.Contamination = 1.5 }},
		{"window below training size", func(c *Config) {
			c.Detection.TrainingWindow = 10
			c.Model.MinTrainingSize = 50
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}
