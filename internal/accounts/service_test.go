package accounts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type counterIDs struct {
	next int
}

func (c *counterIDs) NewID() (string, error) {
	c.next++
	return fmt.Sprintf("account-%d", c.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "accounts.db")), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate account schema: %v", err)
	}
	hasher, err := auth.NewPasswordHasher(4)
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Hasher:     hasher,
		IDProvider: &counterIDs{},
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestSignUpNormalizesAndRejectsDuplicates(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	account, err := service.SignUp(ctx, "  User@Example.COM ", "long enough", " Example User ")
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}
	if account.ID != "account-1" || account.Email != "user@example.com" || account.DisplayName != "Example User" {
		t.Fatalf("unexpected account %+v", account)
	}
	if account.PasswordHash == "long enough" {
		t.Fatalf("password must be stored hashed")
	}

	if _, err := service.SignUp(ctx, "user@example.com", "another password", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := service.SignUp(ctx, "not-an-email", "long enough", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := service.SignUp(ctx, "other@example.com", "short", ""); !errors.Is(err, auth.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created, err := service.SignUp(ctx, "user@example.com", "long enough", "User")
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}

	testCases := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{name: "matching", email: "USER@example.com", password: "long enough"},
		{name: "wrong password", email: "user@example.com", password: "not the one", wantErr: ErrInvalidCredentials},
		{name: "unknown email", email: "nobody@example.com", password: "long enough", wantErr: ErrInvalidCredentials},
		{name: "malformed email", email: "@", password: "long enough", wantErr: ErrInvalidCredentials},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			account, err := service.Authenticate(ctx, testCase.email, testCase.password)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil || account.ID != created.ID {
				t.Fatalf("expected %s, got %+v %v", created.ID, account, err)
			}
		})
	}
}

func TestRevokeTokensAdvancesGeneration(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created, err := service.SignUp(ctx, "user@example.com", "long enough", "")
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}
	if err := service.RevokeTokens(ctx, created.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	loaded, err := service.Get(ctx, created.ID)
	if err != nil || loaded.TokenGeneration != 1 {
		t.Fatalf("expected generation 1, got %+v %v", loaded, err)
	}
	if err := service.RevokeTokens(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := service.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
