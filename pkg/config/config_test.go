package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, "en", cfg.DefaultLanguage)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CONFIRM_TIMEOUT", "2s")
	t.Setenv("DEFAULT_LANGUAGE", "th")
	t.Setenv("RISK_RULES_PATH", "/etc/walletguard/rules.yaml")

	cfg := Load()
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 2*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, "th", cfg.DefaultLanguage)
	assert.Equal(t, "/etc/walletguard/rules.yaml", cfg.RiskRulesPath)
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	t.Setenv("CONFIRM_TIMEOUT", "not-a-duration")
	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.ConfirmTimeout)
}
