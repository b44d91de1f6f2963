package authflow

import (
	"context"
	"fmt"

	"gatehouse.org/internal/account"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/password"
)

// CreateAdmin provisions a pre-verified administrator account. Used by
// deployment bootstrap, not exposed over HTTP; no verification email is
// sent.
func (s *Service) CreateAdmin(ctx context.Context, email, pass string) (*account.Account, error) {
	if err := password.ValidateStrength(pass); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	acct := &account.Account{
		ID:              ids.New(),
		Email:           account.NormalizeEmail(email),
		PasswordHash:    hash,
		Role:            account.RoleAdmin,
		EmailVerified:   true,
		EmailVerifiedAt: &now,
	}
	if err := s.repo.Create(ctx, acct); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, audit.Event{
		AccountID: acct.ID,
		Type:      audit.EventRegister,
		Outcome:   audit.OutcomeSuccess,
		Meta:      map[string]string{"role": account.RoleAdmin},
	})
	return acct, nil
}
