package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server.
type Config struct {
	Addr           string
	Env            string
	DatabaseDriver string
	DatabaseURL    string

	// MessageSecret seeds the at-rest message key. It is read once at
	// startup; only the derived key lives in memory afterwards.
	MessageSecret string
}

// Load reads configuration from environment variables. In development a
// .env file is honored if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           getEnv("LEASELINK_ADDR", ":8080"),
		Env:            getEnv("LEASELINK_ENV", "development"),
		DatabaseDriver: getEnv("LEASELINK_DB_DRIVER", "sqlite3"),
		DatabaseURL:    getEnv("LEASELINK_DB_URL", "./data/messaging.db"),
		MessageSecret:  os.Getenv("LEASELINK_MESSAGE_SECRET"),
	}

	if cfg.MessageSecret == "" {
		return nil, fmt.Errorf("LEASELINK_MESSAGE_SECRET is required")
	}
	if cfg.DatabaseDriver != "sqlite3" && cfg.DatabaseDriver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
