// Package session keeps per-profile token grants and decides whether the
// active profile may talk to the sync service.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRefreshSkew = 5 * time.Minute

var (
	// ErrNotLoggedIn indicates that there is no active profile or it has no stored grant.
	ErrNotLoggedIn = errors.New("session: not logged in")
	// ErrSessionExpired indicates that the grant can no longer be refreshed.
	ErrSessionExpired = errors.New("session: expired")

	errMissingDatabase  = errors.New("session: database handle is required")
	errMissingProfiles  = errors.New("session: profile reader is required")
	errMissingRefresher = errors.New("session: refresher is required")
	errEmptyGrant       = errors.New("session: grant carries no access token")
)

// ActiveProfileReader resolves the profile currently signed in.
type ActiveProfileReader interface {
	Active(ctx context.Context) (records.Profile, bool, error)
}

// Refresher exchanges a refresh token for a new grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (syncapi.AuthResponse, error)
}

// ManagerConfig describes the dependencies of a Manager.
type ManagerConfig struct {
	Database    *gorm.DB
	Profiles    ActiveProfileReader
	Refresher   Refresher
	RefreshSkew time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Manager owns the stored grants. It satisfies the gate consulted before
// every sync cycle and supplies bearer tokens to the remote client.
type Manager struct {
	credentials credentialStore
	profiles    ActiveProfileReader
	refresher   Refresher
	skew        time.Duration
	clock       func() time.Time
	logger      *zap.Logger
	refreshMu   sync.Mutex
}

// NewManager validates the configuration and returns a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	if cfg.Refresher == nil {
		return nil, errMissingRefresher
	}
	skew := cfg.RefreshSkew
	if skew <= 0 {
		skew = defaultRefreshSkew
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		credentials: credentialStore{db: cfg.Database},
		profiles:    cfg.Profiles,
		refresher:   cfg.Refresher,
		skew:        skew,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Save stores a grant for the profile. The expiry comes from ExpiresIn, or
// from the access token's exp claim when the grant carries no lifetime.
func (m *Manager) Save(ctx context.Context, profileID string, grant syncapi.AuthResponse) (Credentials, error) {
	if strings.TrimSpace(grant.AccessToken) == "" {
		return Credentials{}, errEmptyGrant
	}
	now := m.clock()
	credentials := Credentials{
		ProfileID:    profileID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    expiryOf(grant, now),
	}
	if err := m.credentials.save(ctx, credentials, now.UnixMilli()); err != nil {
		return Credentials{}, fmt.Errorf("session: save credentials: %w", err)
	}
	return credentials, nil
}

// Credentials returns the stored grant for the profile.
func (m *Manager) Credentials(ctx context.Context, profileID string) (Credentials, bool, error) {
	return m.credentials.load(ctx, profileID)
}

// Clear forgets the profile's grant.
func (m *Manager) Clear(ctx context.Context, profileID string) error {
	if err := m.credentials.clear(ctx, profileID); err != nil {
		return fmt.Errorf("session: clear credentials: %w", err)
	}
	return nil
}

// LoggedIn reports whether an active profile with a stored grant exists.
func (m *Manager) LoggedIn(ctx context.Context) (bool, error) {
	_, _, found, err := m.active(ctx)
	return found, err
}

// IsUsable reports whether the active grant is not within the refresh skew of expiring.
func (m *Manager) IsUsable(ctx context.Context) (bool, error) {
	_, credentials, found, err := m.active(ctx)
	if err != nil || !found {
		return false, err
	}
	return m.usable(credentials), nil
}

// AccessToken returns the active profile's access token.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	_, credentials, found, err := m.active(ctx)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotLoggedIn
	}
	return credentials.AccessToken, nil
}

// Refresh renews the active grant. A refusal by the service clears the
// stored grant and returns ErrSessionExpired. Transport failures and 5xx
// answers keep the grant and are returned as they are.
func (m *Manager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	profile, credentials, found, err := m.active(ctx)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotLoggedIn
	}
	if credentials.RefreshToken == "" {
		return m.expire(ctx, profile.ID, errors.New("no refresh token stored"))
	}

	grant, err := m.refresher.Refresh(ctx, credentials.RefreshToken)
	if err != nil {
		if refused(err) {
			return m.expire(ctx, profile.ID, err)
		}
		m.logger.Warn("token refresh failed", zap.String("profile_id", profile.ID), zap.Error(err))
		return fmt.Errorf("session: refresh: %w", err)
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = credentials.RefreshToken
	}
	if _, err := m.Save(ctx, profile.ID, grant); err != nil {
		return err
	}
	m.logger.Info("access token refreshed", zap.String("profile_id", profile.ID))
	return nil
}

// refused reports whether the service turned the refresh token down, as
// opposed to failing to answer.
func refused(err error) bool {
	if errors.Is(err, syncapi.ErrUnauthorized) {
		return true
	}
	var remoteErr *syncapi.RemoteError
	if !errors.As(err, &remoteErr) {
		return false
	}
	clientError := remoteErr.Status >= http.StatusBadRequest && remoteErr.Status < http.StatusInternalServerError
	return clientError && remoteErr.Code == syncapi.CodeInvalidCredentials
}

func (m *Manager) expire(ctx context.Context, profileID string, cause error) error {
	m.logger.Warn("session expired", zap.String("profile_id", profileID), zap.Error(cause))
	if err := m.Clear(ctx, profileID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSessionExpired, cause)
}

func (m *Manager) active(ctx context.Context) (records.Profile, Credentials, bool, error) {
	profile, found, err := m.profiles.Active(ctx)
	if err != nil || !found {
		return records.Profile{}, Credentials{}, false, err
	}
	credentials, found, err := m.credentials.load(ctx, profile.ID)
	if err != nil || !found {
		return records.Profile{}, Credentials{}, false, err
	}
	return profile, credentials, true, nil
}

func (m *Manager) usable(credentials Credentials) bool {
	if credentials.ExpiresAt == 0 {
		return true
	}
	return m.clock().UnixMilli() < credentials.ExpiresAt-m.skew.Milliseconds()
}

func expiryOf(grant syncapi.AuthResponse, now time.Time) int64 {
	if grant.ExpiresIn > 0 {
		return now.UnixMilli() + grant.ExpiresIn
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(grant.AccessToken, claims); err != nil {
		return 0
	}
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.UnixMilli()
}
