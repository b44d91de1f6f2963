package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is a mutex-guarded in-memory Repository used in tests and
// in DSN-less development mode. The single lock serializes same-account
// mutations, which satisfies the counter and recovery-code atomicity
// contracts trivially.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*Account
	byEmail map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.Email = NormalizeEmail(a.Email)
	if _, taken := r.byEmail[a.Email]; taken {
		return ErrEmailTaken
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Role == "" {
		a.Role = RoleUser
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	stored := cloneAccount(a)
	r.byID[a.ID] = stored
	r.byEmail[a.Email] = a.ID
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(stored), nil
}

func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(r.byID[id]), nil
}

func (r *MemoryRepository) RecordLoginFailure(_ context.Context, id string, threshold int, lockUntil time.Time) (FailureResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return FailureResult{}, ErrNotFound
	}
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= threshold {
		until := lockUntil
		a.LockedUntil = &until
	}
	a.UpdatedAt = time.Now().UTC()
	res := FailureResult{FailedAttempts: a.FailedLoginAttempts}
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		res.LockedUntil = &t
	}
	return res, nil
}

func (r *MemoryRepository) RecordLoginSuccess(_ context.Context, id, ip string, at time.Time) error {
	return r.update(id, func(a *Account) {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		t := at
		a.LastLoginAt = &t
		a.LastLoginIP = ip
	})
}

func (r *MemoryRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.update(id, func(a *Account) {
		a.PasswordHash = passwordHash
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
	})
}

func (r *MemoryRepository) SetTwoFactorSecret(_ context.Context, id string, secret *string) error {
	return r.update(id, func(a *Account) {
		if secret == nil {
			a.TwoFactorSecret = nil
			return
		}
		s := *secret
		a.TwoFactorSecret = &s
	})
}

func (r *MemoryRepository) EnableTwoFactor(_ context.Context, id, secret string, recoveryCodes []string) error {
	return r.update(id, func(a *Account) {
		a.TwoFactorEnabled = true
		s := secret
		a.TwoFactorSecret = &s
		a.RecoveryCodes = append([]string(nil), recoveryCodes...)
	})
}

func (r *MemoryRepository) DisableTwoFactor(_ context.Context, id string) error {
	return r.update(id, func(a *Account) {
		a.TwoFactorEnabled = false
		a.TwoFactorSecret = nil
		a.RecoveryCodes = nil
	})
}

func (r *MemoryRepository) ConsumeRecoveryCode(_ context.Context, id, code string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || !a.TwoFactorEnabled {
		return 0, ErrRecoveryCodeNotFound
	}
	for i, stored := range a.RecoveryCodes {
		if stored == code {
			a.RecoveryCodes = append(a.RecoveryCodes[:i:i], a.RecoveryCodes[i+1:]...)
			a.UpdatedAt = time.Now().UTC()
			return len(a.RecoveryCodes), nil
		}
	}
	return 0, ErrRecoveryCodeNotFound
}

func (r *MemoryRepository) ReplaceRecoveryCodes(_ context.Context, id string, codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || !a.TwoFactorEnabled {
		return ErrNotFound
	}
	a.RecoveryCodes = append([]string(nil), codes...)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(a *Account) {
		a.EmailVerified = true
		t := at
		a.EmailVerifiedAt = &t
	})
}

func (r *MemoryRepository) update(id string, mutate func(*Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	mutate(a)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneAccount(a *Account) *Account {
	out := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		out.LockedUntil = &t
	}
	if a.TwoFactorSecret != nil {
		s := *a.TwoFactorSecret
		out.TwoFactorSecret = &s
	}
	if a.RecoveryCodes != nil {
		out.RecoveryCodes = append([]string(nil), a.RecoveryCodes...)
	}
	if a.EmailVerifiedAt != nil {
		t := *a.EmailVerifiedAt
		out.EmailVerifiedAt = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		out.LastLoginAt = &t
	}
	return &out
}
