package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/account"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/lockout"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/ratelimit"
	"gatehouse.org/internal/recovery"
)

// LoginInput carries one authentication attempt.
type LoginInput struct {
	Email        string
	Password     string
	TOTPCode     string
	RecoveryCode string
	ClientIP     string
	UserAgent    string
}

// LoginResult is the outcome of a successful or partially successful attempt.
type LoginResult struct {
	// Account is set only on full success.
	Account *account.Account
	// TwoFactorRequired means the password was accepted but a second factor
	// must be submitted before a session is issued.
	TwoFactorRequired bool
	// AccountID accompanies TwoFactorRequired so the client can complete
	// the challenge.
	AccountID string
	// RecoveryCodesRemaining is >= 0 only when a recovery code was spent.
	RecoveryCodesRemaining int
}

// decoyHash is a bcrypt digest of an unguessable throwaway value, used to
// equalize response timing for unknown emails.
const decoyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Login runs the attempt through the credential state machine:
//
//  1. An active lockout rejects the attempt before the password is even
//     checked, and never advances the failure counter.
//  2. A wrong password (or unknown email) fails with invalid credentials;
//     known accounts count the failure and may cross into lockout.
//  3. A correct password against a 2FA-enabled account without a second
//     factor yields TwoFactorRequired, not a session.
//  4. A rejected TOTP or recovery code fails the attempt without touching
//     the failure counter.
//  5. Full success resets the counter, stamps last-login, and clears the
//     caller's login rate budget.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	ctx = audit.WithRequestMeta(ctx, in.ClientIP, in.UserAgent)
	now := s.now().UTC()
	email := account.NormalizeEmail(in.Email)

	acct, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Burn a hash comparison so unknown emails cost the same as
			// wrong passwords.
			s.hasher.Verify(decoyHash, in.Password)
			s.emitAudit(ctx, audit.Event{
				Type:    audit.EventLoginFailure,
				Outcome: audit.OutcomeFailure,
				Meta:    map[string]string{"email": email, "reason": "unknown_account"},
			})
			obs.CountLogin("failure")
			return nil, &InvalidCredentialsError{}
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	if locked, _ := lockout.Locked(acct.LockedUntil, now); locked {
		s.emitAudit(ctx, audit.Event{
			AccountID: acct.ID,
			Type:      audit.EventLoginLocked,
			Outcome:   audit.OutcomeDenied,
		})
		obs.CountLogin("locked")
		return nil, &LockedError{Until: acct.LockedUntil.UTC()}
	}

	if !s.hasher.Verify(acct.PasswordHash, in.Password) {
		return nil, s.recordFailure(ctx, acct, now)
	}

	recoveryRemaining := -1
	if acct.TwoFactorEnabled {
		res, remaining, err := s.completeSecondFactor(ctx, acct, in, now)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
		recoveryRemaining = remaining
	}

	return s.finishLogin(ctx, acct, in, now, recoveryRemaining)
}

// recordFailure counts a wrong-password attempt through the repository's
// atomic increment and translates the post-increment state into the caller
// error.
func (s *Service) recordFailure(ctx context.Context, acct *account.Account, now time.Time) error {
	lockUntil := now.Add(s.policy.LockoutDuration)
	res, err := s.repo.RecordLoginFailure(ctx, acct.ID, s.policy.MaxFailedAttempts, lockUntil)
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}

	// The repository owns the atomic increment; replaying its post-increment
	// counter through the policy keeps the threshold arithmetic in one place.
	d := s.policy.Fail(res.FailedAttempts-1, now)
	if d.Locked {
		until := d.LockedUntil
		if res.LockedUntil != nil {
			// A concurrent failure may have locked the account with an
			// earlier deadline; the stored one wins.
			until = *res.LockedUntil
		}
		s.emitAudit(ctx, audit.Event{
			AccountID: acct.ID,
			Type:      audit.EventLoginLocked,
			Outcome:   audit.OutcomeDenied,
			Meta:      map[string]string{"failed_attempts": fmt.Sprint(res.FailedAttempts)},
		})
		obs.CountLogin("failure")
		obs.CountLockout()
		return &LockedError{Until: until.UTC()}
	}

	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventLoginFailure,
		Outcome:   audit.OutcomeFailure,
		Meta:      map[string]string{"failed_attempts": fmt.Sprint(res.FailedAttempts)},
	})
	obs.CountLogin("failure")
	return &InvalidCredentialsError{Counted: true, AttemptsRemaining: d.AttemptsRemaining}
}

// completeSecondFactor verifies the submitted second factor; a recovery
// code takes precedence when both are present. It returns a
// TwoFactorRequired result when no factor was submitted, and the remaining
// recovery-code count (-1 unless a recovery code was spent) when one
// passed. Second factor failures never advance the password failure counter.
func (s *Service) completeSecondFactor(ctx context.Context, acct *account.Account, in LoginInput, now time.Time) (*LoginResult, int, error) {
	code := strings.TrimSpace(in.TOTPCode)
	recoveryCode := strings.TrimSpace(in.RecoveryCode)

	switch {
	case recoveryCode != "":
		// Codes are stored upper-case and must be submitted exactly as
		// issued; no normalization.
		idx := recovery.Match(recoveryCode, acct.RecoveryCodes)
		if idx < 0 {
			s.emitAudit(ctx, audit.Event{
				AccountID: acct.ID,
				Type:      audit.EventLoginFailure,
				Outcome:   audit.OutcomeFailure,
				Meta:      map[string]string{"reason": "recovery_rejected"},
			})
			obs.CountTwoFactor("failure")
			return nil, -1, ErrInvalidRecoveryCode
		}
		remaining, err := s.repo.ConsumeRecoveryCode(ctx, acct.ID, acct.RecoveryCodes[idx])
		if err != nil {
			if errors.Is(err, account.ErrRecoveryCodeNotFound) {
				// Lost the race against a concurrent redemption of the
				// same code.
				obs.CountTwoFactor("failure")
				return nil, -1, ErrInvalidRecoveryCode
			}
			return nil, -1, fmt.Errorf("consume recovery code: %w", err)
		}
		acct.RecoveryCodes = recovery.Remove(acct.RecoveryCodes, idx)
		s.emitAudit(ctx, audit.Event{
			AccountID: acct.ID,
			Type:      audit.EventRecoveryCodeUsed,
			Outcome:   audit.OutcomeSuccess,
			Meta:      map[string]string{"remaining": fmt.Sprint(remaining)},
		})
		obs.CountTwoFactor("success")
		return nil, remaining, nil

	case code != "":
		if acct.TwoFactorSecret == nil || !s.totp.VerifyAt(*acct.TwoFactorSecret, code, now) {
			s.emitAudit(ctx, audit.Event{
				AccountID: acct.ID,
				Type:      audit.EventLoginFailure,
				Outcome:   audit.OutcomeFailure,
				Meta:      map[string]string{"reason": "totp_rejected"},
			})
			obs.CountTwoFactor("failure")
			return nil, -1, ErrInvalidTwoFactorCode
		}
		obs.CountTwoFactor("success")
		return nil, -1, nil

	default:
		return &LoginResult{TwoFactorRequired: true, AccountID: acct.ID}, -1, nil
	}
}

// finishLogin records the success and clears the caller's rate budget.
func (s *Service) finishLogin(ctx context.Context, acct *account.Account, in LoginInput, now time.Time, recoveryRemaining int) (*LoginResult, error) {
	if err := s.repo.RecordLoginSuccess(ctx, acct.ID, in.ClientIP, now); err != nil {
		return nil, fmt.Errorf("record login success: %w", err)
	}
	acct.FailedLoginAttempts = 0
	acct.LockedUntil = nil
	acct.LastLoginAt = &now
	if in.ClientIP != "" {
		acct.LastLoginIP = in.ClientIP
	}

	if in.ClientIP != "" {
		// Best effort: a limiter failure must not undo an authenticated
		// login.
		if err := s.limiter.Reset(ctx, ratelimit.CategoryLogin, in.ClientIP); err != nil {
			obs.Warn("rate limiter reset failure", map[string]any{"error": err.Error()})
		}
	}

	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventLoginSuccess,
		Outcome:   audit.OutcomeSuccess,
	})
	obs.CountLogin("success")

	return &LoginResult{Account: acct, RecoveryCodesRemaining: recoveryRemaining}, nil
}
