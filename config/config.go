// Package config provides application configuration management.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oremus-labs/ol-ajax-bridge/internal/logutil"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort       string
	AjaxPathPrefix   string
	StreamPathPrefix string
	StaticRoot       string

	// AJAX functions
	FunctionsManifest string
	LongRunningLimit  time.Duration

	// Persistence
	StatePath           string
	DataStoreDriver     string
	DataStoreDSN        string
	InvocationRetention time.Duration
	RetentionInterval   time.Duration

	// Redis / events configuration
	RedisAddr        string
	RedisUsername    string
	RedisPassword    string
	RedisDB          int
	RedisTLSEnabled  bool
	RedisTLSInsecure bool
	EventsChannel    string

	// Access + logging
	APIToken  string
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	statePath := getEnv("STATE_PATH", "/app/state")
	dataStoreDriver := getEnv("DATASTORE_DRIVER", "sqlite")
	dataStoreDSN := getEnv("DATASTORE_DSN", "")
	if dataStoreDSN == "" {
		switch dataStoreDriver {
		case "postgres":
			dataStoreDSN = os.Getenv("POSTGRES_DSN")
		default:
			dataStoreDSN = filepath.Join(statePath, "ajax-bridge.db")
		}
	}
	return &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		AjaxPathPrefix:      normalizePrefix(getEnv("AJAX_PATH_PREFIX", "/ajax")),
		StreamPathPrefix:    normalizePrefix(getEnv("STREAM_PATH_PREFIX", "/stream")),
		StaticRoot:          getEnv("STATIC_ROOT", "./static"),
		FunctionsManifest:   getEnv("FUNCTIONS_MANIFEST", ""),
		LongRunningLimit:    getEnvDuration("LONG_RUNNING_LIMIT", time.Second),
		StatePath:           statePath,
		DataStoreDriver:     dataStoreDriver,
		DataStoreDSN:        dataStoreDSN,
		InvocationRetention: getEnvDuration("INVOCATION_RETENTION", 7*24*time.Hour),
		RetentionInterval:   getEnvDuration("RETENTION_INTERVAL", time.Hour),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisUsername:       getEnv("REDIS_USERNAME", ""),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		RedisTLSEnabled:     getEnvBool("REDIS_TLS_ENABLED", false),
		RedisTLSInsecure:    getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		EventsChannel:       getEnv("EVENTS_CHANNEL", "ajax-bridge-events"),
		APIToken:            os.Getenv("API_TOKEN"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
	}
}

// normalizePrefix returns prefix with a leading slash and no trailing slash.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	return "/" + prefix
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		logutil.Warn("invalid duration, using default", map[string]interface{}{"key": key, "value": value, "default": defaultValue.String()})
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		logutil.Warn("invalid int, using default", map[string]interface{}{"key": key, "value": value, "default": defaultValue})
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			logutil.Warn("invalid bool, using default", map[string]interface{}{"key": key, "value": value, "default": defaultValue})
		}
	}
	return defaultValue
}
