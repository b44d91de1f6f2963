package account

import (
	"context"
	"time"
)

// FailureResult is the post-increment lockout state returned by
// Repository.RecordLoginFailure.
type FailureResult struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Repository describes persistence operations required by the security core.
//
// Two operations carry atomicity contracts that implementations must honor
// at the storage layer, not in application memory:
//
//   - RecordLoginFailure increments the failure counter in a single
//     conditional update, so two concurrent wrong-password attempts cannot
//     both observe the same pre-increment value.
//   - ConsumeRecoveryCode removes the code in a single update conditioned
//     on the code still being present, so the same code cannot be redeemed
//     twice.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	// FindByEmail resolves an account by email, case-insensitively.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// RecordLoginFailure atomically increments the failure counter and,
	// when the post-increment counter reaches threshold, sets locked_until
	// to lockUntil in the same statement.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil time.Time) (FailureResult, error)
	// RecordLoginSuccess resets the lockout fields and stamps the
	// last-login audit fields.
	RecordLoginSuccess(ctx context.Context, id, ip string, at time.Time) error

	// UpdatePassword stores a new credential hash and clears the lockout
	// fields (a successful reset implicitly unlocks the account).
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SetTwoFactorSecret stores (or, with nil, clears) a pending
	// enrollment secret without enabling 2FA.
	SetTwoFactorSecret(ctx context.Context, id string, secret *string) error
	// EnableTwoFactor flips the factor on with its confirmed secret and
	// initial recovery code batch.
	EnableTwoFactor(ctx context.Context, id, secret string, recoveryCodes []string) error
	// DisableTwoFactor clears the flag, the secret, and the codes.
	DisableTwoFactor(ctx context.Context, id string) error

	// ConsumeRecoveryCode removes code from the stored set iff present,
	// returning the remaining count, or ErrRecoveryCodeNotFound without
	// mutating storage.
	ConsumeRecoveryCode(ctx context.Context, id, code string) (remaining int, err error)
	// ReplaceRecoveryCodes swaps in a fresh batch, invalidating the
	// previous set outright.
	ReplaceRecoveryCodes(ctx context.Context, id string, codes []string) error

	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}
