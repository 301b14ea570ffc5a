package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"ENVIRONMENT", "PORT", "ALLOWED_ORIGINS", "JWT_SECRET", "DATABASE_URL",
	"STALE_TIMEOUT", "SWEEP_INTERVAL", "MATCH_INTERVAL", "MATCH_BACKOFF_BASE",
	"MATCH_BACKOFF_CAP", "MATCH_MAX_RETRIES", "DIRECT_RESEARCH", "HISTORY_RETENTION",
	"POW_DIFFICULTY", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.Equal(t, 90*time.Second, cfg.StaleTimeout)
	assert.Equal(t, time.Second, cfg.MatchBackoffBase)
	assert.Equal(t, 5*time.Second, cfg.MatchBackoffCap)
	assert.Equal(t, 8, cfg.MatchMaxRetries)
	assert.True(t, cfg.DirectResearch)
	assert.Zero(t, cfg.PowDifficulty)
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("MATCH_MAX_RETRIES", "3")
	t.Setenv("DIRECT_RESEARCH", "false")
	t.Setenv("STALE_TIMEOUT", "2m")
	t.Setenv("LOG_LEVEL", " WARN ")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.MatchMaxRetries)
	assert.False(t, cfg.DirectResearch)
	assert.Equal(t, 2*time.Minute, cfg.StaleTimeout)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"privileged port", map[string]string{"PORT": "80"}},
		{"non numeric port", map[string]string{"PORT": "http"}},
		{"missing secret in production", map[string]string{"ENVIRONMENT": "production"}},
		{"bad duration", map[string]string{"STALE_TIMEOUT": "soon"}},
		{"sweep slower than staleness", map[string]string{"STALE_TIMEOUT": "10s", "SWEEP_INTERVAL": "1m"}},
		{"cap below base", map[string]string{"MATCH_BACKOFF_BASE": "5s", "MATCH_BACKOFF_CAP": "1s"}},
		{"negative retries", map[string]string{"MATCH_MAX_RETRIES": "-1"}},
		{"bad bool", map[string]string{"DIRECT_RESEARCH": "maybe"}},
		{"pow too hard", map[string]string{"POW_DIFFICULTY": "12"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
