// Package audit records security events: login outcomes, lockouts, token
// flows, and 2FA lifecycle changes. Sink failures are a degraded-mode
// condition for the caller, never a request failure.
package audit

import (
	"context"
	"strings"
	"time"
)

// Event types emitted by the security core.
const (
	EventLoginSuccess        = "login.success"
	EventLoginFailure        = "login.failure"
	EventLoginLocked         = "login.locked"
	EventRegister            = "register"
	EventPasswordChange      = "password.change"
	EventPasswordResetOpened = "password.reset.requested"
	EventPasswordReset       = "password.reset"
	EventEmailVerified       = "email.verified"
	EventTwoFactorSetup      = "2fa.setup"
	EventTwoFactorEnabled    = "2fa.enabled"
	EventTwoFactorDisabled   = "2fa.disabled"
	EventRecoveryCodeUsed    = "2fa.recovery_used"
	EventRecoveryRegenerated = "2fa.recovery_regenerated"
)

// Outcomes attached to events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event is one audit record.
type Event struct {
	ID         string
	OccurredAt time.Time
	// AccountID is empty when the actor could not be resolved (unknown
	// email, invalid token).
	AccountID string
	Type      string
	Outcome   string
	IP        string
	UserAgent string
	Meta      map[string]string
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

type ctxKey struct{}

// WithRequestMeta attaches client IP and user agent to the context so deep
// callers can stamp events without threading HTTP details through every
// signature.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" && userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestMeta{ip: ip, userAgent: userAgent})
}

// RequestMetaFromContext returns the attached client IP and user agent.
func RequestMetaFromContext(ctx context.Context) (ip, userAgent string) {
	if ctx == nil {
		return "", ""
	}
	if m, ok := ctx.Value(ctxKey{}).(requestMeta); ok {
		return m.ip, m.userAgent
	}
	return "", ""
}

type requestMeta struct {
	ip        string
	userAgent string
}
