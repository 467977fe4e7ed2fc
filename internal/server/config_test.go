package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewConfig tests the configuration creation function.
// It verifies that NewConfig returns the expected default values.
func TestNewConfig(t *testing.T) {
	config := NewConfig()

	if config == nil {
		t.Fatal("NewConfig returned nil")
	}

	if config.ListenAddress != "127.0.0.1:3000" {
		t.Errorf("Expected default listen address 127.0.0.1:3000, got %s", config.ListenAddress)
	}
	if config.QueueCapacity != 64 {
		t.Errorf("Expected default queue capacity 64, got %d", config.QueueCapacity)
	}
	if config.LockTimeout != 0 || config.SendTimeout != 0 {
		t.Errorf("Expected unbounded timeouts by default, got lock=%v send=%v", config.LockTimeout, config.SendTimeout)
	}
	if config.WriteTimeout != 15*time.Second {
		t.Errorf("Expected default write timeout 15s, got %v", config.WriteTimeout)
	}
	if config.StrictStatusCodes {
		t.Error("Expected strict status codes to be off by default")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
listen_address: "0.0.0.0:9000"
queue_capacity: 0
lock_timeout: 250ms
send_timeout: 2s
max_message_size: 1024
strict_status_codes: true
allowed_origins:
  - "https://example.com"
rate_limit:
  requests_per_second: 5
  burst: 10
log:
  level: debug
  format: json
metrics:
  enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}

	if cfg.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.QueueCapacity != 0 {
		t.Errorf("QueueCapacity = %d, want explicit 0 preserved", cfg.QueueCapacity)
	}
	if cfg.LockTimeout != 250*time.Millisecond {
		t.Errorf("LockTimeout = %v, want 250ms", cfg.LockTimeout)
	}
	if cfg.SendTimeout != 2*time.Second {
		t.Errorf("SendTimeout = %v, want 2s", cfg.SendTimeout)
	}
	if cfg.MaxMessageSize != 1024 {
		t.Errorf("MaxMessageSize = %d, want 1024", cfg.MaxMessageSize)
	}
	if !cfg.StrictStatusCodes {
		t.Error("StrictStatusCodes = false, want true")
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}
}

func TestLoadConfigKeepsDefaultsForMissingFields(t *testing.T) {
	path := writeConfigFile(t, "listen_address: \":4000\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if cfg.QueueCapacity != 64 {
		t.Errorf("QueueCapacity = %d, want default 64", cfg.QueueCapacity)
	}
	if cfg.MaxMessageSize != 64*1024 {
		t.Errorf("MaxMessageSize = %d, want default", cfg.MaxMessageSize)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "listen_address: [", "failed to parse"},
		{"negative capacity", "queue_capacity: -1", "queue_capacity"},
		{"negative timeout", "send_timeout: -1s", "send_timeout"},
		{"bad metrics path", "metrics:\n  enabled: true\n  path: metrics", "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("RELAY_LISTEN_ADDRESS", ":7000")
	t.Setenv("RELAY_QUEUE_CAPACITY", "8")
	t.Setenv("RELAY_LOCK_TIMEOUT", "1s")
	t.Setenv("RELAY_SEND_TIMEOUT", "not-a-duration")
	t.Setenv("RELAY_WRITE_TIMEOUT", "45s")
	t.Setenv("RELAY_MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RELAY_STRICT_STATUS_CODES", "true")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RELAY_RATE_LIMIT_RPS", "2.5")
	t.Setenv("RELAY_RATE_LIMIT_BURST", "4")
	t.Setenv("RELAY_LOG_LEVEL", "warn")
	t.Setenv("RELAY_METRICS_ENABLED", "false")

	cfg := NewConfigFromEnv()

	if cfg.ListenAddress != ":7000" {
		t.Errorf("ListenAddress = %q, want :7000", cfg.ListenAddress)
	}
	if cfg.QueueCapacity != 8 {
		t.Errorf("QueueCapacity = %d, want 8", cfg.QueueCapacity)
	}
	if cfg.LockTimeout != time.Second {
		t.Errorf("LockTimeout = %v, want 1s", cfg.LockTimeout)
	}
	if cfg.SendTimeout != 0 {
		t.Errorf("SendTimeout = %v, want unparseable value ignored", cfg.SendTimeout)
	}
	if cfg.WriteTimeout != 45*time.Second {
		t.Errorf("WriteTimeout = %v, want 45s", cfg.WriteTimeout)
	}
	if cfg.MaxMessageSize != 2048 {
		t.Errorf("MaxMessageSize = %d, want 2048", cfg.MaxMessageSize)
	}
	if !cfg.StrictStatusCodes {
		t.Error("StrictStatusCodes = false, want true")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 || cfg.RateLimit.Burst != 4 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RELAY_LISTEN_ADDRESS", ":8123")
	path := writeConfigFile(t, "listen_address: \":4000\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if cfg.ListenAddress != ":8123" {
		t.Errorf("ListenAddress = %q, want env override :8123", cfg.ListenAddress)
	}
}

func TestSanitizeConfigFillsEmptyValues(t *testing.T) {
	cfg := Config{ListenAddress: "  "}
	sanitizeConfig(&cfg)

	if cfg.ListenAddress != "127.0.0.1:3000" {
		t.Errorf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.MaxMessageSize != 64*1024 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}
