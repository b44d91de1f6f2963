// Package password provides the one-way credential hasher and the password
// strength policy applied at the request boundary.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is the credential hashing collaborator consumed by the auth flows.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

// Bcrypt is the default Hasher.
type Bcrypt struct {
	// Cost overrides bcrypt.DefaultCost when > 0.
	Cost int
}

func (b Bcrypt) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password is empty")
	}
	cost := b.Cost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (b Bcrypt) Verify(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// ErrWeakPassword is returned when a candidate password fails the policy.
var ErrWeakPassword = errors.New("password does not meet strength requirements")

const minPasswordLength = 8

// ValidateStrength enforces the minimum password policy: at least 8
// characters with an upper-case letter, a lower-case letter, and a digit.
func ValidateStrength(plain string) error {
	if len(plain) < minPasswordLength {
		return ErrWeakPassword
	}
	var upper, lower, digit bool
	for _, r := range plain {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrWeakPassword
	}
	return nil
}
