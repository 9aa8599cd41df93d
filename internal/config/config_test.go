package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("APP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "migrations", cfg.Postgres.MigrationsDir)
	assert.Equal(t, 20.0, cfg.Payment.CallbackRatePerSecond)
	assert.Equal(t, 30*time.Second, cfg.Payment.CompletionLockTTL())
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("PAYMENT_HASH_KEY", "secret")
	t.Setenv("PAYMENT_CALLBACK_RATE_PER_SECOND", "2.5")
	t.Setenv("PAYMENT_COMPLETION_LOCK_SECONDS", "5")
	t.Setenv("FEE_POLICY_FILE", "/etc/permit/fees.yaml")
	t.Setenv("POSTGRES_MAX_CONNS", "not-a-number")
	t.Setenv("FEE_NO_FEE_COMPANIES", " gov-1, ,gov-2 ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "secret", cfg.Payment.HashKey)
	assert.Equal(t, 2.5, cfg.Payment.CallbackRatePerSecond)
	assert.Equal(t, 5*time.Second, cfg.Payment.CompletionLockTTL())
	assert.Equal(t, "/etc/permit/fees.yaml", cfg.Fee.PolicyFile)
	assert.Equal(t, []string{"gov-1", "gov-2"}, cfg.Fee.NoFeeCompanies)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "primary")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadCallbackRate(t *testing.T) {
	t.Setenv("PAYMENT_CALLBACK_RATE_PER_SECOND", "fast")
	_, err := Load()
	assert.Error(t, err)
}
