package auth

import (
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLength = 8
	// bcrypt truncates past 72 bytes; reject long inputs outright
	MaxPasswordLength = 128
)

// PasswordManager hashes and verifies operator passwords.
type PasswordManager struct {
	cost      int
	minLength int
}

// NewPasswordManager creates a manager; out-of-range arguments take
// the defaults.
func NewPasswordManager(cost, minLength int) *PasswordManager {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	if minLength < 1 {
		minLength = MinPasswordLength
	}
	return &PasswordManager{cost: cost, minLength: minLength}
}

// Hash returns the bcrypt hash of the password after length checks.
func (p *PasswordManager) Hash(password string) (string, error) {
	if len(password) < p.minLength {
		return "", ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Verify reports whether the password matches the stored hash.
func (p *PasswordManager) Verify(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
