package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	// ErrWeakPassword indicates a password shorter than the minimum length.
	ErrWeakPassword = errors.New("auth: password is too short")
	// ErrPasswordMismatch indicates that a password does not match the stored hash.
	ErrPasswordMismatch = errors.New("auth: password mismatch")
)

// PasswordHasher hashes account passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher; a zero cost selects bcrypt.DefaultCost.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d out of range", cost)
	}
	return &PasswordHasher{cost: cost}, nil
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "", fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, minPasswordLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Compare reports ErrPasswordMismatch when password does not produce hash.
func (h *PasswordHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
