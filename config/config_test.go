package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "independent", cfg.Tally.Rounding)
	assert.Equal(t, time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 15, cfg.AWS.PresignExpireMinutes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example,")
	t.Setenv("ADMIN_EMAILS", "root@example.com")
	t.Setenv("SWEEP_INTERVAL_SEC", "0")
	t.Setenv("TALLY_ROUNDING", "largest_remainder")
	t.Setenv("TALLY_CACHE_TTL_SEC", "5")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, []string{"root@example.com"}, cfg.Auth.AdminEmails)
	assert.Zero(t, cfg.Sweep.Interval)
	assert.Equal(t, "largest_remainder", cfg.Tally.Rounding)
	assert.Equal(t, 5*time.Second, cfg.Tally.CacheTTL)
	assert.Equal(t, 10, cfg.Database.MaxConns)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("rounding", func(t *testing.T) {
		t.Setenv("TALLY_ROUNDING", "banker")
		_, err := Load()
		assert.ErrorContains(t, err, "TALLY_ROUNDING")
	})
	t.Run("sweep interval", func(t *testing.T) {
		t.Setenv("SWEEP_INTERVAL_SEC", "-5")
		_, err := Load()
		assert.ErrorContains(t, err, "SWEEP_INTERVAL_SEC")
	})
}
