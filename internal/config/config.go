// Package config provides environment configuration for the branchpad server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Local state
	OplogDSN     string
	SnapshotPath string
	WatchOplog   bool

	// Remote store
	RemoteDSN   string
	RemoteToken string

	// Connectivity probe. Empty disables the websocket monitor and the
	// executor assumes it is always online.
	ConnectivityURL string

	// Sync behavior
	SyncMaxAttempts int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// Local state
		OplogDSN:     getEnv("OPLOG_DSN", "file://branchpad-oplog.json"),
		SnapshotPath: getEnv("SNAPSHOT_PATH", "branchpad-snapshot.json"),
		WatchOplog:   getBoolEnv("WATCH_OPLOG", true),

		// Remote store
		RemoteDSN:   getEnv("REMOTE_DSN", "memory://"),
		RemoteToken: getEnv("REMOTE_TOKEN", ""),

		// Connectivity
		ConnectivityURL: getEnv("CONNECTIVITY_URL", ""),

		// Sync
		SyncMaxAttempts: getIntEnv("SYNC_MAX_ATTEMPTS", 0),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
