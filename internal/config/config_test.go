package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "TOKEN_TTL", "SESSION_TTL", "PRUNE_BATCH_SIZE", "LOG_LEVEL", "LOG_PRETTY", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}
	t.Setenv("DB_ADAPTER", "memory")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, 30*24*time.Hour, c.TokenTTL)
	assert.Equal(t, time.Hour, c.SessionTTL)
	assert.Equal(t, 100, c.PruneBatchSize)
	assert.Equal(t, "info", c.LogLevel)
	assert.False(t, c.LogPretty)
	assert.Empty(t, c.CORSAllowedOrigins)
}

func TestNewCORSOrigins(t *testing.T) {
	t.Setenv("DB_ADAPTER", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, c.CORSAllowedOrigins)
}

func TestNewPostgresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("POSTGRES_PORT", "")
	t.Setenv("POSTGRES_SSLMODE", "")
	t.Setenv("DB_ADAPTER", "postgres")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "svc")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("POSTGRES_DB", "tokens")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=svc dbname=tokens sslmode=disable password=pw", c.PostgresDSN)
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown adapter", map[string]string{"DB_ADAPTER": "mongo"}},
		{"bad port", map[string]string{"DB_ADAPTER": "memory", "PORT": "http"}},
		{"bad ttl", map[string]string{"DB_ADAPTER": "memory", "TOKEN_TTL": "forever"}},
		{"zero batch", map[string]string{"DB_ADAPTER": "memory", "PRUNE_BATCH_SIZE": "0"}},
		{"default secret in production", map[string]string{"DB_ADAPTER": "memory", "APP_ENV": "production", "JWT_SECRET": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := New()
			assert.Error(t, err)
		})
	}
}
