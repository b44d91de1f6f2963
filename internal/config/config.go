// Package config handles runtime configuration for the gatehouse service:
// development defaults overlaid with environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime settings for the gatehouse API server.
type Config struct {
	// Addr is the HTTP bind address.
	Addr string
	// DatabaseDSN is the PostgreSQL DSN (pgx). Empty selects the in-memory
	// stores, which is only suitable for development.
	DatabaseDSN string
	// RedisAddr is the address of the Redis instance backing the
	// route-category rate limiter. Empty disables it.
	RedisAddr string
	// SessionSecret is the HMAC secret for signing session JWTs (HS256).
	SessionSecret string
	// Issuer is the display name embedded in TOTP enrollment URIs and
	// session token claims.
	Issuer string
	// PublicBaseURL is the externally reachable base URL used when building
	// verification and reset links.
	PublicBaseURL string

	// MaxFailedAttempts is the lockout threshold.
	MaxFailedAttempts int
	// LockoutDuration is how long an account stays locked.
	LockoutDuration time.Duration

	// SessionTTL bounds session token lifetime.
	SessionTTL time.Duration
	// VerifyTokenTTL bounds email-verification token lifetime.
	VerifyTokenTTL time.Duration
	// ResetTokenTTL bounds password-reset token lifetime.
	ResetTokenTTL time.Duration

	// HTTPRateBurst and HTTPRatePerSecond configure the blanket per-IP
	// request bucket in front of the whole API. Zero disables it.
	HTTPRateBurst     int
	HTTPRatePerSecond int

	// DevTokenEcho echoes verification/reset tokens in API responses.
	// Never enable in production.
	DevTokenEcho bool
}

// Load builds a Config from defaults overlaid with GATEHOUSE_* environment
// variables.
func Load() *Config {
	cfg := &Config{
		Addr:              ":8080",
		Issuer:            "gatehouse",
		PublicBaseURL:     "http://localhost:8080",
		MaxFailedAttempts: 5,
		LockoutDuration:   30 * time.Minute,
		SessionTTL:        15 * time.Minute,
		VerifyTokenTTL:    24 * time.Hour,
		ResetTokenTTL:     time.Hour,
		HTTPRateBurst:     30,
		HTTPRatePerSecond: 10,
	}

	setString(&cfg.Addr, "GATEHOUSE_ADDR")
	setString(&cfg.DatabaseDSN, "GATEHOUSE_PG_DSN")
	setString(&cfg.RedisAddr, "GATEHOUSE_REDIS_ADDR")
	setString(&cfg.SessionSecret, "GATEHOUSE_SESSION_SECRET")
	setString(&cfg.Issuer, "GATEHOUSE_ISSUER")
	setString(&cfg.PublicBaseURL, "GATEHOUSE_PUBLIC_URL")
	setInt(&cfg.MaxFailedAttempts, "GATEHOUSE_MAX_FAILED_ATTEMPTS")
	setDuration(&cfg.LockoutDuration, "GATEHOUSE_LOCKOUT_DURATION")
	setDuration(&cfg.SessionTTL, "GATEHOUSE_SESSION_TTL")
	setDuration(&cfg.VerifyTokenTTL, "GATEHOUSE_VERIFY_TOKEN_TTL")
	setDuration(&cfg.ResetTokenTTL, "GATEHOUSE_RESET_TOKEN_TTL")
	setInt(&cfg.HTTPRateBurst, "GATEHOUSE_HTTP_RATE_BURST")
	setInt(&cfg.HTTPRatePerSecond, "GATEHOUSE_HTTP_RATE_PER_SEC")
	setBool(&cfg.DevTokenEcho, "GATEHOUSE_DEV_TOKEN_ECHO")

	return cfg
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
