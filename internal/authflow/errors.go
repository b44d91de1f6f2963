package authflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike,
	// so responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("authflow: invalid credentials")
	// ErrAccountLocked means the lockout window is active.
	ErrAccountLocked = errors.New("authflow: account locked")
	// ErrInvalidTwoFactorCode means the submitted TOTP code was rejected.
	ErrInvalidTwoFactorCode = errors.New("authflow: invalid two-factor code")
	// ErrInvalidRecoveryCode means the submitted recovery code was rejected.
	ErrInvalidRecoveryCode = errors.New("authflow: invalid recovery code")
	// ErrTokenInvalid covers expired, consumed, and unrecognized tokens;
	// the distinction is never exposed.
	ErrTokenInvalid = errors.New("authflow: invalid or expired token")
	// ErrWrongPassword rejects a re-authentication password on the
	// account-scoped operations (change password, 2FA management).
	ErrWrongPassword = errors.New("authflow: wrong password")
	// ErrAlreadyVerified rejects re-sending verification for a verified
	// account.
	ErrAlreadyVerified = errors.New("authflow: email already verified")
	// ErrTwoFactorAlreadyEnabled rejects enrollment over an active factor.
	ErrTwoFactorAlreadyEnabled = errors.New("authflow: two-factor already enabled")
	// ErrTwoFactorNotEnabled rejects 2FA operations that require an active
	// factor.
	ErrTwoFactorNotEnabled = errors.New("authflow: two-factor not enabled")
	// ErrTwoFactorNotPending rejects enrollment confirmation before setup.
	ErrTwoFactorNotPending = errors.New("authflow: two-factor enrollment not started")
)

// InvalidCredentialsError wraps ErrInvalidCredentials with the remaining
// attempt budget when the account is known. AttemptsRemaining is only
// meaningful when Counted is true; unknown-email failures deliberately carry
// nothing distinguishable.
type InvalidCredentialsError struct {
	Counted           bool
	AttemptsRemaining int
}

func (e *InvalidCredentialsError) Error() string { return ErrInvalidCredentials.Error() }

func (e *InvalidCredentialsError) Unwrap() error { return ErrInvalidCredentials }

// LockedError wraps ErrAccountLocked with the lock expiry.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked.Error(), e.Until.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }
