package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the download orchestrator.
type Config struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration
	AllowAnyOrigin   bool

	MaxConcurrentDownloads int
	DownloadDir            string

	EngineMode         string
	Aria2RPCURL        string
	Aria2EventsURL     string
	Aria2Secret        string
	EnginePollInterval time.Duration

	DatabaseURL string
	DataDir     string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "fetchqueue"),
		ShutdownTimeout:  15 * time.Second,
		AllowAnyOrigin:   false,

		MaxConcurrentDownloads: 3,
		DownloadDir:            envOrDefault("DOWNLOAD_DIR", "./downloads"),

		EngineMode: envOrDefault("ENGINE_MODE", "auto"),
		// aria2 serves JSON-RPC and its websocket notifications on the
		// same endpoint; only the scheme differs.
		Aria2RPCURL:        envOrDefault("ARIA2_RPC_URL", "http://localhost:6800/jsonrpc"),
		Aria2EventsURL:     envOrDefault("ARIA2_EVENTS_URL", "ws://localhost:6800/jsonrpc"),
		Aria2Secret:        stringsTrimSpace("ARIA2_SECRET"),
		EnginePollInterval: time.Second,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
		DataDir:     envOrDefault("APP_DATA_DIR", "./data"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EnginePollInterval, err = durationFromEnv("ENGINE_POLL_INTERVAL", cfg.EnginePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentDownloads, err = intFromEnv("MAX_CONCURRENT_DOWNLOADS", cfg.MaxConcurrentDownloads)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxConcurrentDownloads <= 0 {
		return Config{}, fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be positive")
	}
	if cfg.EnginePollInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("ENGINE_POLL_INTERVAL must be at least 100ms")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EngineMode)) {
	case "auto", "aria2", "mock":
	default:
		return Config{}, fmt.Errorf("invalid ENGINE_MODE: %q (expected auto|aria2|mock)", cfg.EngineMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
