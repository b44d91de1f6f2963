// Package token implements the opaque, expiring, single-use tokens backing
// email verification and password reset. A token is `<id>.<secret>`; only
// the SHA-256 of the secret is persisted, so a leaked store cannot be
// replayed into valid tokens.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/ids"
)

// Purpose binds a token to exactly one flow.
type Purpose string

const (
	PurposeEmailVerify   Purpose = "email-verify"
	PurposePasswordReset Purpose = "password-reset"
)

// ErrInvalid covers expired, already-redeemed, wrong-purpose, and
// unrecognized tokens alike; callers must not distinguish these to the
// client.
var ErrInvalid = errors.New("token: invalid")

// Record is the persisted form of a token.
type Record struct {
	ID         string
	AccountID  string
	Purpose    Purpose
	SecretHash string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// Store persists token records. MarkConsumed must be conditional on the
// record not yet being consumed, so concurrent redemptions cannot both
// succeed.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Find(ctx context.Context, id string) (*Record, error)
	MarkConsumed(ctx context.Context, id string, at time.Time) error
}

// Issuer generates and redeems tokens against a Store.
type Issuer struct {
	store Store
	ttl   map[Purpose]time.Duration
	now   func() time.Time
}

// Option configures Issuer behavior.
type Option func(*Issuer)

// WithTTL overrides the lifetime for a purpose.
func WithTTL(purpose Purpose, ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl[purpose] = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer with default lifetimes: 24h for email
// verification, 1h for password reset.
func NewIssuer(store Store, opts ...Option) *Issuer {
	i := &Issuer{
		store: store,
		ttl: map[Purpose]time.Duration{
			PurposeEmailVerify:   24 * time.Hour,
			PurposePasswordReset: time.Hour,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue creates a token bound to the account and purpose and returns its
// opaque string form. The plaintext secret exists only in the return value.
func (i *Issuer) Issue(ctx context.Context, accountID string, purpose Purpose) (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("token secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))

	now := i.now().UTC()
	rec := &Record{
		ID:         ids.New(),
		AccountID:  accountID,
		Purpose:    purpose,
		SecretHash: hex.EncodeToString(sum[:]),
		ExpiresAt:  now.Add(i.ttl[purpose]),
		CreatedAt:  now,
	}
	if err := i.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return rec.ID + "." + secret, nil
}

// Redeem resolves a token back to its account and invalidates it. Any
// failure mode collapses into ErrInvalid.
func (i *Issuer) Redeem(ctx context.Context, raw string, purpose Purpose) (string, error) {
	id, secret, err := splitToken(raw)
	if err != nil {
		return "", ErrInvalid
	}

	rec, err := i.store.Find(ctx, id)
	if err != nil {
		return "", ErrInvalid
	}
	if rec.Purpose != purpose || rec.ConsumedAt != nil {
		return "", ErrInvalid
	}
	now := i.now()
	if now.After(rec.ExpiresAt) {
		return "", ErrInvalid
	}
	sum := sha256.Sum256([]byte(secret))
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(rec.SecretHash)) != 1 {
		return "", ErrInvalid
	}

	// Conditional on not-yet-consumed: the loser of a concurrent redemption
	// race fails here.
	if err := i.store.MarkConsumed(ctx, rec.ID, now.UTC()); err != nil {
		return "", ErrInvalid
	}
	return rec.AccountID, nil
}

func splitToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid token format")
	}
	return parts[0], parts[1], nil
}
