// Package ratelimit throttles security-sensitive routes with Redis-backed
// fixed-window counters keyed by route category and client key. The
// authenticator calls Reset on successful login so a legitimate user who
// finally gets their password right is not left throttled.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Route categories.
const (
	CategoryLogin     = "login"
	CategoryToken     = "token"
	CategoryTwoFactor = "2fa"
)

var (
	// ErrLimited is returned when the window budget is exhausted.
	ErrLimited = errors.New("ratelimit: limit exceeded")

	errRedisUnavailable = errors.New("ratelimit: redis unavailable")
)

// Limiter is the throttling collaborator consumed by the HTTP layer and the
// credential authenticator (reset hook only).
type Limiter interface {
	// Allow records one attempt and reports whether it is within budget.
	Allow(ctx context.Context, category, clientKey string) error
	// Reset clears the counter for the category+key pair.
	Reset(ctx context.Context, category, clientKey string) error
}

// Config tunes the fixed-window budgets.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultConfig allows 20 attempts per 5-minute window.
func DefaultConfig() Config {
	return Config{MaxAttempts: 20, Window: 5 * time.Minute}
}

// Redis implements Limiter with INCR + EXPIRE-on-first-hit counters.
// Redis unavailability fails open: throttling is a hardening layer, not a
// correctness dependency, and an outage must not take logins down with it.
type Redis struct {
	client redis.UniversalClient
	config Config
}

var _ Limiter = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, cfg Config) *Redis {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Redis{client: client, config: cfg}
}

func (l *Redis) Allow(ctx context.Context, category, clientKey string) error {
	count, err := l.incrementWithTTL(ctx, key(category, clientKey), l.config.Window)
	if err != nil {
		return nil // fail open
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrLimited
	}
	return nil
}

func (l *Redis) Reset(ctx context.Context, category, clientKey string) error {
	if err := l.client.Del(ctx, key(category, clientKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the live counter; missing keys are zero.
func (l *Redis) Attempts(ctx context.Context, category, clientKey string) (int, error) {
	count, err := l.client.Get(ctx, key(category, clientKey)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return int(count), nil
}

func (l *Redis) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	// Fixed-window semantics: TTL is set only on the first hit in a window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
	}
	return count, nil
}

func key(category, clientKey string) string {
	return "rl:" + category + ":" + clientKey
}

// Noop is the Limiter used when no Redis address is configured.
type Noop struct{}

var _ Limiter = Noop{}

func (Noop) Allow(context.Context, string, string) error { return nil }
func (Noop) Reset(context.Context, string, string) error { return nil }
