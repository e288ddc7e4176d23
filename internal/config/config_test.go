package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
server:
  host: 127.0.0.1
  port: 9000
  workspace_root: /srv/workspace
auth:
  secret: supersecret
  token_ttl: 1h
rate_limit:
  enabled: true
  messages_per_second: 50
  burst: 75
permissions:
  file_operation: write
log:
  level: debug
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("Server.Addr() = %q, want %q", cfg.Server.Addr(), "127.0.0.1:9000")
	}
	if cfg.Auth.Secret != "supersecret" {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "supersecret")
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, time.Hour)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Burst != 75 {
		t.Errorf("RateLimit = %+v, want enabled with burst 75", cfg.RateLimit)
	}
	if cfg.Permissions["file_operation"] != "write" {
		t.Errorf("Permissions[file_operation] = %q, want %q", cfg.Permissions["file_operation"], "write")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("COLLABD_TEST_SECRET", "from-env")

	yaml := `
auth:
  secret: ${COLLABD_TEST_SECRET}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "from-env")
	}
}

func TestLoadAndValidateAppliesDefaults(t *testing.T) {
	path := writeTempFile(t, "server:\n  host: localhost\n")

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Auth.TokenTTL != DefaultTokenTTL {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, DefaultTokenTTL)
	}
	if cfg.RateLimit.MessagesPerSecond != DefaultMessagesPerSecond {
		t.Errorf("RateLimit.MessagesPerSecond = %v, want %v",
			cfg.RateLimit.MessagesPerSecond, DefaultMessagesPerSecond)
	}
	if cfg.Permissions["deployment"] != "execute" {
		t.Errorf("Permissions[deployment] = %q, want %q", cfg.Permissions["deployment"], "execute")
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8765" {
		t.Errorf("Server.Addr() = %q, want %q", cfg.Server.Addr(), "0.0.0.0:8765")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"empty workspace root", func(c *Config) { c.Server.WorkspaceRoot = "" }},
		{"negative ttl", func(c *Config) { c.Auth.TokenTTL = -time.Minute }},
		{"rate limit zero rate", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.MessagesPerSecond = 0
			c.RateLimit.Burst = 10
		}},
		{"rate limit zero burst", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Burst = 0
		}},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate returned nil, want error")
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		got, err := LogConfig{Level: tt.level}.SlogLevel()
		if err != nil {
			t.Errorf("SlogLevel(%q) error: %v", tt.level, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
