/*
Package configs is responsible for loading and parsing the application's configuration settings.

It reads operating system environment variables for the running environment, port,
CORS allowed origins, token secret, proof-of-work difficulty, the optional session log
database, and the presence and matchmaking timings.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// LogLevel overrides the environment's default log level (debug in development, info otherwise).
	LogLevel string

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string

	// PowDifficulty is the number of leading hex zeros a join proof-of-work needs. 0 disables it.
	PowDifficulty int

	// Database Settings. An empty DSN disables the session log.
	DatabaseDSN string

	// Presence Settings
	StaleTimeout  time.Duration
	SweepInterval time.Duration

	// Matchmaking Settings
	MatchInterval    time.Duration
	MatchBackoffBase time.Duration
	MatchBackoffCap  time.Duration
	MatchMaxRetries  int
	DirectResearch   bool

	// HistoryRetention is how long a closed session's messages stay readable.
	HistoryRetention time.Duration
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads and parses the application configuration from environment variables.
// It provides default values for each configuration item and performs necessary type conversions and validation.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	port, err := intEnv("PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	cfg.AllowedOrigins = []string{}
	if originsStr := os.Getenv("ALLOWED_ORIGINS"); originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
		}
		cfg.JWTSecret = "your_default_insecure_secret_key_change_me"
	}

	if cfg.PowDifficulty, err = intEnv("POW_DIFFICULTY", 0); err != nil {
		return nil, err
	}

	// --- Database Settings ---
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")

	// --- Presence Settings ---
	if cfg.StaleTimeout, err = durationEnv("STALE_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}

	// --- Matchmaking Settings ---
	if cfg.MatchInterval, err = durationEnv("MATCH_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MatchBackoffBase, err = durationEnv("MATCH_BACKOFF_BASE", time.Second); err != nil {
		return nil, err
	}
	if cfg.MatchBackoffCap, err = durationEnv("MATCH_BACKOFF_CAP", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MatchMaxRetries, err = intEnv("MATCH_MAX_RETRIES", 8); err != nil {
		return nil, err
	}
	if cfg.DirectResearch, err = boolEnv("DIRECT_RESEARCH", true); err != nil {
		return nil, err
	}
	if cfg.HistoryRetention, err = durationEnv("HISTORY_RETENTION", 30*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks relationships between settings that single-value parsing cannot catch.
func (c *AppConfig) validate() error {
	if c.SweepInterval <= 0 || c.StaleTimeout <= 0 || c.MatchInterval <= 0 {
		return fmt.Errorf("STALE_TIMEOUT, SWEEP_INTERVAL and MATCH_INTERVAL must be positive")
	}
	if c.SweepInterval > c.StaleTimeout {
		return fmt.Errorf("SWEEP_INTERVAL (%s) must not exceed STALE_TIMEOUT (%s)", c.SweepInterval, c.StaleTimeout)
	}
	if c.MatchBackoffBase <= 0 || c.MatchBackoffCap < c.MatchBackoffBase {
		return fmt.Errorf("MATCH_BACKOFF_BASE must be positive and not exceed MATCH_BACKOFF_CAP")
	}
	if c.MatchMaxRetries < 0 {
		return fmt.Errorf("MATCH_MAX_RETRIES must not be negative, got %d", c.MatchMaxRetries)
	}
	if c.PowDifficulty < 0 || c.PowDifficulty > 8 {
		return fmt.Errorf("POW_DIFFICULTY must be between 0 and 8, got %d", c.PowDifficulty)
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("HISTORY_RETENTION must not be negative")
	}
	return nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}
