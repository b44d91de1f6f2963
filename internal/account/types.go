package account

import (
	"strings"
	"time"
)

// Roles consumed by the authorization boundary. This core only assigns them
// at creation time.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is the central mutable entity of the security core.
type Account struct {
	ID    string
	Email string // stored lower-cased; lookups are case-insensitive

	PasswordHash string

	// Lockout state.
	FailedLoginAttempts int
	LockedUntil         *time.Time

	// 2FA state. TwoFactorSecret is non-nil only while enrollment is
	// pending or 2FA is enabled; RecoveryCodes is non-nil only while
	// 2FA is enabled.
	TwoFactorEnabled bool
	TwoFactorSecret  *string
	RecoveryCodes    []string

	// Verification state.
	EmailVerified   bool
	EmailVerifiedAt *time.Time

	// Audit fields.
	LastLoginAt *time.Time
	LastLoginIP string

	Role string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnrollmentPending reports whether a 2FA secret exists that has not yet
// been confirmed.
func (a *Account) EnrollmentPending() bool {
	return !a.TwoFactorEnabled && a.TwoFactorSecret != nil
}

// NormalizeEmail lower-cases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
