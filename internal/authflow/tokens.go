package authflow

import (
	"context"
	"errors"
	"fmt"

	"gatehouse.org/internal/account"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/password"
	"gatehouse.org/internal/token"
)

// RegisterInput carries a signup request.
type RegisterInput struct {
	Email     string
	Password  string
	ClientIP  string
	UserAgent string
}

// RegisterResult is the created account plus the raw verification token.
// The token is returned so development deployments can echo it; production
// callers deliver it through the notifier only.
type RegisterResult struct {
	Account           *account.Account
	VerificationToken string
}

// Register creates an account with an unverified email and issues its
// verification token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	ctx = audit.WithRequestMeta(ctx, in.ClientIP, in.UserAgent)

	if err := password.ValidateStrength(in.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acct := &account.Account{
		ID:           ids.New(),
		Email:        account.NormalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         account.RoleUser,
	}
	if err := s.repo.Create(ctx, acct); err != nil {
		return nil, err
	}

	raw, err := s.tokens.Issue(ctx, acct.ID, token.PurposeEmailVerify)
	if err != nil {
		return nil, fmt.Errorf("issue verification token: %w", err)
	}

	s.sendNotification(ctx, func(nctx context.Context) error {
		return s.notifier.SendVerification(nctx, acct.Email, raw, acct.Email)
	}, "verification")
	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventRegister,
		Outcome:   audit.OutcomeSuccess,
	})

	return &RegisterResult{Account: acct, VerificationToken: raw}, nil
}

// VerifyEmail redeems a verification token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	accountID, err := s.tokens.Redeem(ctx, rawToken, token.PurposeEmailVerify)
	if err != nil {
		if errors.Is(err, token.ErrInvalid) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("redeem verification token: %w", err)
	}
	if err := s.repo.MarkEmailVerified(ctx, accountID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	s.emitAudit(ctx, audit.Event{
		AccountID: accountID,
		Type:      audit.EventEmailVerified,
		Outcome:   audit.OutcomeSuccess,
	})
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. An unknown email is reported as success so the endpoint cannot be
// used to probe for accounts; an already verified one is rejected.
func (s *Service) ResendVerification(ctx context.Context, email string) (string, error) {
	acct, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("find account: %w", err)
	}
	if acct.EmailVerified {
		return "", ErrAlreadyVerified
	}

	raw, err := s.tokens.Issue(ctx, acct.ID, token.PurposeEmailVerify)
	if err != nil {
		return "", fmt.Errorf("issue verification token: %w", err)
	}
	s.sendNotification(ctx, func(nctx context.Context) error {
		return s.notifier.SendVerification(nctx, acct.Email, raw, acct.Email)
	}, "verification")
	return raw, nil
}

// ForgotPassword opens a password reset. The outcome is identical for known
// and unknown emails; only a known account actually receives a token.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	acct, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("find account: %w", err)
	}

	raw, err := s.tokens.Issue(ctx, acct.ID, token.PurposePasswordReset)
	if err != nil {
		return "", fmt.Errorf("issue reset token: %w", err)
	}
	s.sendNotification(ctx, func(nctx context.Context) error {
		return s.notifier.SendPasswordReset(nctx, acct.Email, raw, acct.Email)
	}, "password-reset")
	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventPasswordResetOpened,
		Outcome:   audit.OutcomeSuccess,
	})
	return raw, nil
}

// ResetPassword redeems a reset token and replaces the credential. The
// repository clears the lockout fields in the same update, so a locked-out
// user regains access immediately.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := password.ValidateStrength(newPassword); err != nil {
		return err
	}
	accountID, err := s.tokens.Redeem(ctx, rawToken, token.PurposePasswordReset)
	if err != nil {
		if errors.Is(err, token.ErrInvalid) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("redeem reset token: %w", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, accountID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.emitAudit(ctx, audit.Event{
		AccountID: accountID,
		Type:      audit.EventPasswordReset,
		Outcome:   audit.OutcomeSuccess,
	})
	return nil
}

// ChangePassword replaces the credential for an authenticated account after
// re-verifying the current password.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	acct, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	if !s.hasher.Verify(acct.PasswordHash, currentPassword) {
		s.emitAudit(ctx, audit.Event{
			AccountID: acct.ID,
			Type:      audit.EventPasswordChange,
			Outcome:   audit.OutcomeFailure,
		})
		return ErrWrongPassword
	}
	if err := password.ValidateStrength(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventPasswordChange,
		Outcome:   audit.OutcomeSuccess,
	})
	return nil
}
