// Package authflow implements the credential authenticator state machine and
// the token-flow orchestrator of the account security core. All storage goes
// through account.Repository; the hasher, token issuer, notifier, audit sink,
// and rate limiter are injected collaborators.
package authflow

import (
	"context"
	"time"

	"gatehouse.org/internal/account"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/lockout"
	"gatehouse.org/internal/notify"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/password"
	"gatehouse.org/internal/ratelimit"
	"gatehouse.org/internal/recovery"
	"gatehouse.org/internal/token"
	"gatehouse.org/internal/totp"
)

// defaultCollaboratorTimeout bounds notifier and audit sink calls so a slow
// collaborator cannot stall the primary operation.
const defaultCollaboratorTimeout = 2 * time.Second

// TokenIssuer is the consumer-side contract for the single-use token
// collaborator. Satisfied by *token.Issuer.
type TokenIssuer interface {
	Issue(ctx context.Context, accountID string, purpose token.Purpose) (string, error)
	Redeem(ctx context.Context, raw string, purpose token.Purpose) (string, error)
}

// Service orchestrates login attempts, token flows, and 2FA lifecycle
// operations.
type Service struct {
	repo   account.Repository
	hasher password.Hasher
	tokens TokenIssuer
	totp   *totp.Engine

	notifier  notify.Notifier
	auditSink audit.Sink
	limiter   ratelimit.Limiter

	policy        lockout.Policy
	recoveryCount int
	collabTimeout time.Duration
	now           func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithNotifier sets the notification sender.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithAuditSink sets the audit sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.auditSink = sink }
}

// WithRateLimiter sets the limiter whose counter is reset on successful
// login.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithLockoutPolicy overrides the default 5-attempt / 30-minute policy.
func WithLockoutPolicy(p lockout.Policy) Option {
	return func(s *Service) {
		if p.MaxFailedAttempts > 0 && p.LockoutDuration > 0 {
			s.policy = p
		}
	}
}

// WithRecoveryCodeCount overrides the recovery batch size.
func WithRecoveryCodeCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recoveryCount = n
		}
	}
}

// WithCollaboratorTimeout overrides the notifier/audit call budget.
func WithCollaboratorTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.collabTimeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the security core service.
func NewService(repo account.Repository, hasher password.Hasher, tokens TokenIssuer, totpEngine *totp.Engine, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		hasher:        hasher,
		tokens:        tokens,
		totp:          totpEngine,
		limiter:       ratelimit.Noop{},
		policy:        lockout.DefaultPolicy(),
		recoveryCount: recovery.DefaultCount,
		collabTimeout: defaultCollaboratorTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// emitAudit records an event, stamping request metadata from the context.
// Sink failure is logged as a degraded-mode warning and never propagated:
// the primary operation has already succeeded or failed on its own terms.
func (s *Service) emitAudit(ctx context.Context, ev audit.Event) {
	if s.auditSink == nil {
		return
	}
	if ev.IP == "" && ev.UserAgent == "" {
		ev.IP, ev.UserAgent = audit.RequestMetaFromContext(ctx)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.collabTimeout)
	defer cancel()
	if err := s.auditSink.Record(cctx, ev); err != nil {
		obs.Warn("audit sink failure", map[string]any{
			"event": ev.Type,
			"error": err.Error(),
		})
	}
}

// sendNotification delivers through the notifier under the collaborator
// timeout; failure is degraded-mode, logged only.
func (s *Service) sendNotification(ctx context.Context, send func(context.Context) error, kind string) {
	if s.notifier == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.collabTimeout)
	defer cancel()
	if err := send(cctx); err != nil {
		obs.Warn("notifier failure", map[string]any{
			"kind":  kind,
			"error": err.Error(),
		})
	}
}
