package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BUCKET", "test-bucket")
	t.Setenv("BACKEND_ACCESS_KEY", "test-key")
	t.Setenv("BACKEND_SECRET_KEY", "test-secret")
	t.Setenv("ENCRYPTION_KEK", base64.StdEncoding.EncodeToString(make([]byte, 32)))
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.ListenAddr != ":8080" {
		t.Errorf("expected ListenAddr :8080, got %s", config.ListenAddr)
	}
	if config.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", config.LogLevel)
	}
	if config.Backend.Region != "us-east-1" {
		t.Errorf("expected default region us-east-1, got %s", config.Backend.Region)
	}
	if config.Server.ReadTimeout != 15*time.Second {
		t.Errorf("expected default read timeout 15s, got %s", config.Server.ReadTimeout)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BACKEND_ENDPOINT", "http://localhost:9000")
	t.Setenv("BACKEND_USE_PATH_STYLE", "true")
	t.Setenv("CACHE_ENABLED", "1")
	t.Setenv("CACHE_DEFAULT_TTL", "30s")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.ListenAddr != ":9090" {
		t.Errorf("expected ListenAddr :9090, got %s", config.ListenAddr)
	}
	if config.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug, got %s", config.LogLevel)
	}
	if config.Backend.Endpoint != "http://localhost:9000" {
		t.Errorf("expected backend endpoint override, got %s", config.Backend.Endpoint)
	}
	if !config.Backend.UsePathStyle {
		t.Error("expected path style to be enabled")
	}
	if !config.Cache.Enabled || config.Cache.DefaultTTL != 30*time.Second {
		t.Errorf("expected cache enabled with 30s TTL, got %+v", config.Cache)
	}
}

func TestLoadConfig_File(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen_addr: ":7070"
log_level: warn
backend:
  region: eu-central-1
audit:
  enabled: true
  max_events: 42
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.ListenAddr != ":7070" {
		t.Errorf("expected ListenAddr :7070, got %s", config.ListenAddr)
	}
	if config.Backend.Region != "eu-central-1" {
		t.Errorf("expected region eu-central-1, got %s", config.Backend.Region)
	}
	if !config.Audit.Enabled || config.Audit.MaxEvents != 42 {
		t.Errorf("expected audit enabled with 42 events, got %+v", config.Audit)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{name: "missing bucket", unset: "BUCKET"},
		{name: "missing access key", unset: "BACKEND_ACCESS_KEY"},
		{name: "missing secret key", unset: "BACKEND_SECRET_KEY"},
		{name: "missing KEK", unset: "ENCRYPTION_KEK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			if _, err := LoadConfig(""); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")

	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestLoadConfig_TracingValidation(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_EXPORTER", "otlp")

	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for otlp exporter without endpoint")
	}

	t.Setenv("TRACING_OTLP_ENDPOINT", "localhost:4317")
	if _, err := LoadConfig(""); err != nil {
		t.Errorf("LoadConfig failed: %v", err)
	}
}
