/*
Package config loads runtime configuration from the environment.

PURPOSE:
  Central place for every tunable: HTTP port, database path, token lifetime,
  sweep cadence. Values come from environment variables with sane defaults,
  optionally seeded from a .env file in development.

SEE ALSO:
  - cmd/server/main.go: loads this at startup
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the assembled runtime settings.
type Config struct {
	// HTTPAddr is the listen address for the API server.
	HTTPAddr string

	// DatabasePath is the SQLite file, or ":memory:" for ephemeral runs.
	DatabasePath string

	// TokenTTL is how long an issued redemption token stays valid.
	TokenTTL time.Duration

	// SweepInterval is the cadence of the expired-token sweep.
	SweepInterval time.Duration

	// SiteID tags transactions and tokens in single-site deployments.
	SiteID string

	// AllowedOrigins is the CORS allowlist for the back-office frontend.
	AllowedOrigins []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (*Config, error) {
	// Ignore a missing .env; it only exists in development.
	_ = godotenv.Load()

	tokenTTL, err := getEnvDuration("TOKEN_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	if tokenTTL <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive, got %s", tokenTTL)
	}

	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	if sweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", sweepInterval)
	}

	return &Config{
		HTTPAddr:       ":" + strconv.Itoa(getEnvInt("PORT", 8080)),
		DatabasePath:   getEnvString("DATABASE_PATH", "loyalty.db"),
		TokenTTL:       tokenTTL,
		SweepInterval:  sweepInterval,
		SiteID:         getEnvString("SITE_ID", ""),
		AllowedOrigins: []string{getEnvString("ALLOWED_ORIGIN", "*")},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
