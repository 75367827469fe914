package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrInvalidEmail indicates an address that cannot identify an account.
	ErrInvalidEmail = errors.New("accounts: invalid email")
	// ErrEmailTaken indicates that an account already uses the address.
	ErrEmailTaken = errors.New("accounts: email already registered")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	// ErrNotFound indicates an unknown account id.
	ErrNotFound = errors.New("accounts: not found")
)

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// IDProvider issues account identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Hasher     PasswordHasher
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service registers accounts and checks their credentials.
type Service struct {
	db     *gorm.DB
	hasher PasswordHasher
	ids    IDProvider
	now    func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("accounts: password hasher required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("accounts: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:     cfg.Database,
		hasher: cfg.Hasher,
		ids:    cfg.IDProvider,
		now:    clock,
	}, nil
}

// SignUp registers a new account. Password policy errors from the hasher
// are returned unchanged.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Account, error) {
	address, err := parseEmail(email)
	if err != nil {
		return Account{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Account{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Account{}, err
	}
	account := Account{
		ID:           id,
		Email:        address,
		DisplayName:  normalize(displayName),
		PasswordHash: hash,
		LastSeenAt:   s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Account{}).Where("email = ?", address).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrEmailTaken, address)
		}
		return tx.Create(&account).Error
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Authenticate returns the account for email when password matches.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	address, err := parseEmail(email)
	if err != nil {
		return Account{}, ErrInvalidCredentials
	}
	var account Account
	err = s.db.WithContext(ctx).Where("email = ?", address).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	account.LastSeenAt = s.now().UTC()
	_ = s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", account.ID).
		Update("last_seen_at", account.LastSeenAt).
		Error
	return account, nil
}

// Get returns the account with the given id.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", normalize(id)).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// RevokeTokens advances the account's token generation so refresh tokens
// issued before the call stop working.
func (s *Service) RevokeTokens(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", normalize(id)).
		Update("token_generation", gorm.Expr("token_generation + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func parseEmail(raw string) (string, error) {
	candidate := normalizeEmail(raw)
	if candidate == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	parsed, err := mail.ParseAddress(candidate)
	if err != nil || parsed.Address != candidate {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return candidate, nil
}
