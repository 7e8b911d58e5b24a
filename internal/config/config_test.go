package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "HOLD_TTL", "EMAIL_PROVIDER", "CORS_ALLOWED_ORIGINS", "DEFAULT_CURRENCY"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 15*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 5*time.Minute, cfg.HoldSweepInterval)
	assert.Equal(t, 0, cfg.ConfigSweepHour)
	assert.Equal(t, 5, cfg.ConfigSweepMinute)
	assert.Equal(t, "Asia/Kolkata", cfg.SchedulerTimezone)
	assert.Equal(t, "INR", cfg.DefaultCurrency)
	assert.Equal(t, "SRU", cfg.BookingCodePrefix)
	assert.Equal(t, "stub", cfg.EmailProvider)
	assert.Nil(t, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.AllowUnverifiedPayments)
	assert.False(t, cfg.UsesAWS())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("HOLD_TTL", "20m")
	t.Setenv("HOLD_SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("RATE_LIMIT_RPS", "5.5")
	t.Setenv("HOLD_VELOCITY_MAX", "7")
	t.Setenv("ALLOW_UNVERIFIED_PAYMENTS", "true")
	t.Setenv("EMAIL_PROVIDER", " SES ")
	t.Setenv("DEFAULT_CURRENCY", "usd")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://user@host/db", cfg.DatabaseURL)
	assert.Equal(t, 20*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 5*time.Minute, cfg.HoldSweepInterval, "invalid durations fall back to the default")
	assert.InDelta(t, 5.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 7, cfg.HoldVelocityMax)
	assert.True(t, cfg.AllowUnverifiedPayments)
	assert.Equal(t, "ses", cfg.EmailProvider)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.UsesAWS())
}
