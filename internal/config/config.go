// Package config reads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config holds the configuration for the server.
type Config struct {
	Port int

	// StoreBackend is BackendSQLite or BackendBolt. With BackendSQLite a
	// libsql:// DBPath selects the remote libSQL driver.
	StoreBackend string
	DBPath       string
	DBAuthToken  string

	ShareTokenSecret string
	ShareTokenTTL    time.Duration

	// GeminiAPIKey is optional; receipt upload is disabled without it.
	GeminiAPIKey string
	GeminiModel  string

	AllocationMaxRetries int
}

// Load reads .env files (missing files are ignored) and then the
// environment. Variables already set in the environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return NewFromEnv()
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	port, err := intEnv("PORT", 8080)
	if err != nil {
		return nil, err
	}

	backend := getEnv("STORE_BACKEND", BackendSQLite)
	if backend != BackendSQLite && backend != BackendBolt {
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendBolt, backend)
	}

	defaultPath := "./data/tabsplit.db"
	if backend == BackendBolt {
		defaultPath = "./data/tabsplit.bolt"
	}

	secret := os.Getenv("SHARE_TOKEN_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("SHARE_TOKEN_SECRET environment variable not set")
	}

	ttl, err := durationEnv("SHARE_TOKEN_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	retries, err := intEnv("ALLOCATION_MAX_RETRIES", 5)
	if err != nil {
		return nil, err
	}
	if retries < 0 {
		return nil, fmt.Errorf("ALLOCATION_MAX_RETRIES must not be negative, got %d", retries)
	}

	return &Config{
		Port:                 port,
		StoreBackend:         backend,
		DBPath:               getEnv("DB_PATH", defaultPath),
		DBAuthToken:          os.Getenv("DB_AUTH_TOKEN"),
		ShareTokenSecret:     secret,
		ShareTokenTTL:        ttl,
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:          os.Getenv("GEMINI_MODEL"),
		AllocationMaxRetries: retries,
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
