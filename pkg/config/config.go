// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port              string
	LogLevel          string
	LogFormat         string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	InternalAPISecret string
	WebhookHMACSecret string
	OperatorJWTSecret string
	LedgerConfirmURL  string
	ConfirmTimeout    time.Duration
	DefaultLanguage   string
	RiskRulesPath     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		InternalAPISecret: getEnv("INTERNAL_API_SECRET", ""),
		WebhookHMACSecret: getEnv("WEBHOOK_HMAC_SECRET", ""),
		OperatorJWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),
		LedgerConfirmURL:  getEnv("LEDGER_CONFIRM_URL", "http://localhost:8090/internal/confirm-deposit"),
		DefaultLanguage:   getEnv("DEFAULT_LANGUAGE", "en"),
		RiskRulesPath:     getEnv("RISK_RULES_PATH", ""),
	}

	if db, err := strconv.Atoi(getEnv("REDIS_DB", "0")); err == nil {
		cfg.RedisDB = db
	}

	timeout := getEnv("CONFIRM_TIMEOUT", "10s")
	d, err := time.ParseDuration(timeout)
	if err != nil {
		d = 10 * time.Second
	}
	cfg.ConfirmTimeout = d

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
