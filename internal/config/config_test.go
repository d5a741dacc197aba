package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/dna")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.ReservationTTL)
	assert.Equal(t, "@every 1m", cfg.WorkerSchedule)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, uint64(3), cfg.Gateway.MaxRetries)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/dna")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RESERVATION_TTL", "90")
	t.Setenv("LOCK_WAIT", "750ms")
	t.Setenv("REDIS_URL", "redis://app:pw@cache:6380")
	t.Setenv("EMBEDDED_SWEEPER", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.ReservationTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.LockWait)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "app", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
	assert.True(t, cfg.EmbeddedSweeper)
}

func TestLoadRejectsMissingSecretInProd(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/dna")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}
