package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubRefresher struct {
	calls int
	grant syncapi.AuthResponse
	err   error
}

func (s *stubRefresher) Refresh(_ context.Context, refreshToken string) (syncapi.AuthResponse, error) {
	s.calls++
	if s.err != nil {
		return syncapi.AuthResponse{}, s.err
	}
	return s.grant, nil
}

type fixture struct {
	manager   *Manager
	store     *records.Store
	refresher *stubRefresher
	now       *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "session.db")), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(append(records.Models(), &CredentialRow{})...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store, err := records.NewStore(records.StoreConfig{Database: database, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	refresher := &stubRefresher{}
	manager, err := NewManager(ManagerConfig{
		Database:  database,
		Profiles:  store.Profiles(),
		Refresher: refresher,
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	return fixture{manager: manager, store: store, refresher: refresher, now: &now}
}

func (f fixture) signIn(t *testing.T, profileID string, grant syncapi.AuthResponse) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.Profiles().Save(ctx, records.Profile{ID: profileID, Email: profileID + "@example.com", Provider: records.ProviderLocal}); err != nil {
		t.Fatalf("save profile failed: %v", err)
	}
	if err := f.store.Profiles().Activate(ctx, profileID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if _, err := f.manager.Save(ctx, profileID, grant); err != nil {
		t.Fatalf("save grant failed: %v", err)
	}
}

func TestNotLoggedInWithoutActiveProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loggedIn, err := f.manager.LoggedIn(ctx)
	if err != nil || loggedIn {
		t.Fatalf("expected logged out, got %v %v", loggedIn, err)
	}
	if _, err := f.manager.AccessToken(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if err := f.manager.Refresh(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestExpiryIsReachedFiveMinutesEarly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "user-1", syncapi.AuthResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: (10 * time.Minute).Milliseconds()})

	usable, err := f.manager.IsUsable(ctx)
	if err != nil || !usable {
		t.Fatalf("expected usable grant, got %v %v", usable, err)
	}
	*f.now = f.now.Add(5*time.Minute + time.Second)
	usable, err = f.manager.IsUsable(ctx)
	if err != nil || usable {
		t.Fatalf("expected grant inside the skew to be unusable, got %v %v", usable, err)
	}
}

func TestExpiryFallsBackToJWTClaim(t *testing.T) {
	f := newFixture(t)
	expiresAt := f.now.Add(time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	f.signIn(t, "user-1", syncapi.AuthResponse{AccessToken: token, RefreshToken: "r"})

	credentials, found, err := f.manager.Credentials(context.Background(), "user-1")
	if err != nil || !found {
		t.Fatalf("expected stored credentials, got %v %v", found, err)
	}
	if credentials.ExpiresAt != expiresAt.Truncate(time.Second).UnixMilli() {
		t.Fatalf("expected expiry from exp claim, got %d", credentials.ExpiresAt)
	}
}

func TestRefreshStoresNewGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "user-1", syncapi.AuthResponse{AccessToken: "old", RefreshToken: "refresh-1", ExpiresIn: 1000})
	f.refresher.grant = syncapi.AuthResponse{AccessToken: "new", ExpiresIn: time.Hour.Milliseconds()}

	if err := f.manager.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	token, err := f.manager.AccessToken(ctx)
	if err != nil || token != "new" {
		t.Fatalf("expected new access token, got %q %v", token, err)
	}
	credentials, _, _ := f.manager.Credentials(ctx, "user-1")
	if credentials.RefreshToken != "refresh-1" {
		t.Fatalf("expected refresh token to be kept, got %q", credentials.RefreshToken)
	}
	if usable, _ := f.manager.IsUsable(ctx); !usable {
		t.Fatalf("expected refreshed grant to be usable")
	}
}

func TestFailedRefreshClearsGrantOnlyWhenRefused(t *testing.T) {
	testCases := []struct {
		name        string
		err         error
		expectClear bool
	}{
		{name: "unauthorized", err: &syncapi.RemoteError{Status: 401, Code: syncapi.CodeUnauthorized}, expectClear: true},
		{name: "invalid credentials", err: &syncapi.RemoteError{Status: 400, Code: syncapi.CodeInvalidCredentials}, expectClear: true},
		{name: "service unavailable", err: &syncapi.RemoteError{Status: 503, Code: syncapi.CodeInternal}, expectClear: false},
		{name: "bad gateway without envelope", err: &syncapi.RemoteError{Status: 502}, expectClear: false},
		{name: "transport failure", err: errors.New("connection refused"), expectClear: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.signIn(t, "user-1", syncapi.AuthResponse{AccessToken: "old", RefreshToken: "refresh-1", ExpiresIn: 1000})
			f.refresher.err = testCase.err

			err := f.manager.Refresh(ctx)
			if err == nil {
				t.Fatalf("expected refresh to fail")
			}
			if errors.Is(err, ErrSessionExpired) != testCase.expectClear {
				t.Fatalf("expected session expired %t, got %v", testCase.expectClear, err)
			}
			loggedIn, loadErr := f.manager.LoggedIn(ctx)
			if loadErr != nil {
				t.Fatalf("load credentials failed: %v", loadErr)
			}
			if loggedIn == testCase.expectClear {
				t.Fatalf("expected grant cleared %t, still logged in %t", testCase.expectClear, loggedIn)
			}
		})
	}
}
