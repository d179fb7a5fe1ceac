// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Event store backend names accepted by SOAR_EVENT_STORE.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Policy gate settings.
	PolicyURL        string // Remote policy endpoint; empty disables the remote path.
	PolicyTimeout    time.Duration
	PolicyFailClosed bool // Deny instead of allow when the remote gate is unreachable.

	// Approval settings.
	ApprovalTimeout time.Duration // Zero means approval waits are unbounded.

	// Event store settings.
	EventStore     string // memory | file | sqlite | postgres.
	EventStorePath string // File path for the file and sqlite backends.
	DatabaseURL    string // Postgres URL for the postgres backend.

	// Feed settings.
	FeedBufferSize int // Per-subscriber event buffer.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	RateLimitPerMinute  int // Per-session command budget; zero disables limiting.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("SOAR_PORT", 8080),
		ReadTimeout:         envDuration("SOAR_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("SOAR_WRITE_TIMEOUT", 0), // SSE streams need no write deadline.
		PolicyURL:           envStr("SOAR_POLICY_URL", ""),
		PolicyTimeout:       envDuration("SOAR_POLICY_TIMEOUT", 2*time.Second),
		PolicyFailClosed:    envBool("SOAR_POLICY_FAIL_CLOSED", false),
		ApprovalTimeout:     envDuration("SOAR_APPROVAL_TIMEOUT", 0),
		EventStore:          envStr("SOAR_EVENT_STORE", StoreMemory),
		EventStorePath:      envStr("SOAR_EVENT_STORE_PATH", "soar_audit.jsonl"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		FeedBufferSize:      envInt("SOAR_FEED_BUFFER", 64),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "soar"),
		LogLevel:            envStr("SOAR_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("SOAR_MAX_REQUEST_BODY_BYTES", 64*1024)),
		RateLimitPerMinute:  envInt("SOAR_RATE_LIMIT_PER_MINUTE", 60),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: SOAR_PORT must be in (0, 65535]")
	}
	switch c.EventStore {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.EventStorePath == "" {
			return fmt.Errorf("config: SOAR_EVENT_STORE_PATH is required for the %s store", c.EventStore)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown event store %q", c.EventStore)
	}
	if c.PolicyTimeout <= 0 {
		return fmt.Errorf("config: SOAR_POLICY_TIMEOUT must be positive")
	}
	if c.FeedBufferSize <= 0 {
		return fmt.Errorf("config: SOAR_FEED_BUFFER must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SOAR_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
