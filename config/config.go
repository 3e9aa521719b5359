// Package config materializes the application configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config is the full application configuration surface.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RefData  RefDataConfig
	Currency string
	LogLevel string
}

// ServerConfig holds HTTP server options.
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds SQLite options.
type DatabaseConfig struct {
	Path string
}

// RefDataConfig points at the reference-data service. An empty URL
// switches the server to fixture-backed demo mode.
type RefDataConfig struct {
	URL   string
	Token string
}

// Load reads environment variables (optionally from the provided file)
// and materializes a Config. Missing .env files are acceptable when
// configuration comes from the environment directly.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		_ = godotenv.Load()
	}

	return &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Path: getenvWithDefault("DATABASE_PATH", "buq.db"),
		},
		RefData: RefDataConfig{
			URL:   os.Getenv("REFDATA_URL"),
			Token: os.Getenv("REFDATA_TOKEN"),
		},
		Currency: getenvWithDefault("CURRENCY", "USD"),
		LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
	}, nil
}

func getenvWithDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
