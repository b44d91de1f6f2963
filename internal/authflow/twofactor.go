package authflow

import (
	"context"
	"fmt"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/recovery"
)

// SetupResult carries a pending enrollment: the shared secret plus its
// otpauth:// provisioning URI for authenticator apps.
type SetupResult struct {
	Secret     string
	OTPAuthURL string
}

// EnableResult is the confirmed enrollment with its initial recovery code
// batch. The codes are returned exactly this once.
type EnableResult struct {
	RecoveryCodes []string
	Warning       string
}

// SetupTwoFactor begins enrollment for an authenticated account. The caller
// re-authenticates with their password; an account with an active factor is
// rejected. Repeating setup before confirmation simply replaces the pending
// secret, invalidating the earlier one.
func (s *Service) SetupTwoFactor(ctx context.Context, accountID, currentPassword string) (*SetupResult, error) {
	acct, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if !s.hasher.Verify(acct.PasswordHash, currentPassword) {
		return nil, ErrWrongPassword
	}
	if acct.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, uri, err := s.totp.GenerateSecret(acct.Email)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	if err := s.repo.SetTwoFactorSecret(ctx, acct.ID, &secret); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}

	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventTwoFactorSetup,
		Outcome:   audit.OutcomeSuccess,
	})
	return &SetupResult{Secret: secret, OTPAuthURL: uri}, nil
}

// VerifyTwoFactor confirms a pending enrollment with a live TOTP code. On
// success the factor is enabled and the initial recovery batch is persisted
// in the same repository operation, so the account can never be observed
// enabled without codes.
func (s *Service) VerifyTwoFactor(ctx context.Context, accountID, code string) (*EnableResult, error) {
	acct, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if acct.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if !acct.EnrollmentPending() {
		return nil, ErrTwoFactorNotPending
	}
	if !s.totp.VerifyAt(*acct.TwoFactorSecret, code, s.now()) {
		obs.CountTwoFactor("failure")
		return nil, ErrInvalidTwoFactorCode
	}

	codes, err := recovery.Generate(s.recoveryCount)
	if err != nil {
		return nil, fmt.Errorf("generate recovery codes: %w", err)
	}
	if err := s.repo.EnableTwoFactor(ctx, acct.ID, *acct.TwoFactorSecret, codes); err != nil {
		return nil, fmt.Errorf("enable two-factor: %w", err)
	}

	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventTwoFactorEnabled,
		Outcome:   audit.OutcomeSuccess,
	})
	obs.CountTwoFactor("success")
	return &EnableResult{
		RecoveryCodes: codes,
		Warning:       recovery.FormatBatchWarning(len(codes)),
	}, nil
}

// DisableTwoFactor turns the factor off. It demands both the password and a
// live TOTP code; a recovery code is deliberately not accepted here, so a
// stolen recovery code alone cannot strip the account's second factor.
func (s *Service) DisableTwoFactor(ctx context.Context, accountID, currentPassword, code string) error {
	acct, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	if !acct.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if !s.hasher.Verify(acct.PasswordHash, currentPassword) {
		return ErrWrongPassword
	}
	if acct.TwoFactorSecret == nil || !s.totp.VerifyAt(*acct.TwoFactorSecret, code, s.now()) {
		obs.CountTwoFactor("failure")
		return ErrInvalidTwoFactorCode
	}

	if err := s.repo.DisableTwoFactor(ctx, acct.ID); err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventTwoFactorDisabled,
		Outcome:   audit.OutcomeSuccess,
	})
	return nil
}

// RegenerateRecoveryCodes replaces the stored batch outright after a
// password re-authentication. Previously issued codes stop working even if
// unspent.
func (s *Service) RegenerateRecoveryCodes(ctx context.Context, accountID, currentPassword string) (*EnableResult, error) {
	acct, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if !acct.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if !s.hasher.Verify(acct.PasswordHash, currentPassword) {
		return nil, ErrWrongPassword
	}

	codes, err := recovery.Generate(s.recoveryCount)
	if err != nil {
		return nil, fmt.Errorf("generate recovery codes: %w", err)
	}
	if err := s.repo.ReplaceRecoveryCodes(ctx, acct.ID, codes); err != nil {
		return nil, fmt.Errorf("replace recovery codes: %w", err)
	}

	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventRecoveryRegenerated,
		Outcome:   audit.OutcomeSuccess,
	})
	return &EnableResult{
		RecoveryCodes: codes,
		Warning:       recovery.FormatBatchWarning(len(codes)),
	}, nil
}
