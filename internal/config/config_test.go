package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_BIND_ADDR", "APP_METRICS_NAMESPACE", "APP_SHUTDOWN_TIMEOUT",
		"APP_ALLOW_ANY_ORIGIN", "MAX_CONCURRENT_DOWNLOADS", "DOWNLOAD_DIR",
		"ENGINE_MODE", "ARIA2_RPC_URL", "ARIA2_EVENTS_URL", "ARIA2_SECRET",
		"ENGINE_POLL_INTERVAL", "DATABASE_URL", "APP_DATA_DIR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Errorf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.MaxConcurrentDownloads != 3 {
		t.Errorf("MaxConcurrentDownloads = %d, want 3", cfg.MaxConcurrentDownloads)
	}
	if cfg.EngineMode != "auto" {
		t.Errorf("EngineMode = %q, want auto", cfg.EngineMode)
	}
	if cfg.EnginePollInterval != time.Second {
		t.Errorf("EnginePollInterval = %v, want 1s", cfg.EnginePollInterval)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 15s", cfg.ShutdownTimeout)
	}
	if cfg.AllowAnyOrigin {
		t.Errorf("AllowAnyOrigin = true, want false")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_BIND_ADDR", "127.0.0.1:9000")
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "8")
	t.Setenv("ENGINE_POLL_INTERVAL", "250ms")
	t.Setenv("ENGINE_MODE", "mock")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("ARIA2_SECRET", "  s3cret  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:9000" {
		t.Errorf("BindAddr = %q, want override", cfg.BindAddr)
	}
	if cfg.MaxConcurrentDownloads != 8 {
		t.Errorf("MaxConcurrentDownloads = %d, want 8", cfg.MaxConcurrentDownloads)
	}
	if cfg.EnginePollInterval != 250*time.Millisecond {
		t.Errorf("EnginePollInterval = %v, want 250ms", cfg.EnginePollInterval)
	}
	if !cfg.AllowAnyOrigin {
		t.Errorf("AllowAnyOrigin = false, want true")
	}
	if cfg.Aria2Secret != "s3cret" {
		t.Errorf("Aria2Secret = %q, want trimmed", cfg.Aria2Secret)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"zero concurrency", "MAX_CONCURRENT_DOWNLOADS", "0", "MAX_CONCURRENT_DOWNLOADS"},
		{"negative concurrency", "MAX_CONCURRENT_DOWNLOADS", "-2", "MAX_CONCURRENT_DOWNLOADS"},
		{"garbage concurrency", "MAX_CONCURRENT_DOWNLOADS", "many", "parse error"},
		{"poll interval too short", "ENGINE_POLL_INTERVAL", "50ms", "ENGINE_POLL_INTERVAL"},
		{"garbage duration", "APP_SHUTDOWN_TIMEOUT", "soon", "parse error"},
		{"unknown engine mode", "ENGINE_MODE", "warp", "ENGINE_MODE"},
		{"garbage bool", "APP_ALLOW_ANY_ORIGIN", "maybe", "parse error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
