package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "testsecret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, int64(50000), cfg.MinWithdrawal)
	assert.Equal(t, int64(10000), cfg.MinDeposit)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.CatalogueTTL)
	assert.Equal(t, "subshop", cfg.MetricsNamespace)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "testsecret")
	t.Setenv("HTTP_LISTEN_ADDR", ":9090")
	t.Setenv("MIN_WITHDRAWAL", "100000")
	t.Setenv("REFERRAL_TTL", "1h")
	t.Setenv("REDIS_TLS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPListenAddr)
	assert.Equal(t, int64(100000), cfg.MinWithdrawal)
	assert.Equal(t, time.Hour, cfg.ReferralTTL)
	assert.True(t, cfg.RedisTLS)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("JWT_SECRET", "testsecret")
	t.Setenv("MIN_WITHDRAWAL", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
