// Package profiles manages the identities signed in on this device. The
// local data set belongs to exactly one profile at a time: moving to a
// different one wipes snapshots and categories and reseeds the defaults.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/sequence"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/session"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"go.uber.org/zap"
)

var (
	// ErrIncompleteGrant indicates an auth response without a user id or token.
	ErrIncompleteGrant = errors.New("profiles: grant is missing user id or access token")

	errMissingStore       = errors.New("record store is required")
	errMissingSequence    = errors.New("sequence is required")
	errMissingCredentials = errors.New("credential store is required")
)

// ServiceError carries an operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "profiles.service.new"
	opSignedIn        = "profiles.signed_in"
	opSwitch          = "profiles.switch"
	opSignOut         = "profiles.sign_out"
	reasonInvalid     = "invalid_input"
	reasonStoreFailed = "store_failed"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// CredentialStore keeps the token grant of each profile.
type CredentialStore interface {
	Save(ctx context.Context, profileID string, grant syncapi.AuthResponse) (session.Credentials, error)
	Clear(ctx context.Context, profileID string) error
}

// Logouter tells the service that the active grant is no longer used.
type Logouter interface {
	Logout(ctx context.Context) error
}

// ServiceConfig describes the dependencies of a Service. Remote is optional.
type ServiceConfig struct {
	Store       *records.Store
	Sequence    *sequence.Sequencer
	Credentials CredentialStore
	Remote      Logouter
	Logger      *zap.Logger
}

// Service changes the active profile. Every change runs on the local
// sequence, so it waits for an in-flight sync cycle to finish.
type Service struct {
	store       *records.Store
	sequence    *sequence.Sequencer
	credentials CredentialStore
	remote      Logouter
	logger      *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Sequence == nil {
		return nil, newServiceError(opServiceNew, "missing_sequence", errMissingSequence)
	}
	if cfg.Credentials == nil {
		return nil, newServiceError(opServiceNew, "missing_credentials", errMissingCredentials)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       cfg.Store,
		sequence:    cfg.Sequence,
		credentials: cfg.Credentials,
		remote:      cfg.Remote,
		logger:      logger,
	}, nil
}

// SignedIn records a successful sign-in: the grant's user becomes the only
// active profile and its credentials are stored. Signing in as someone other
// than the active profile starts from a fresh local data set.
func (s *Service) SignedIn(ctx context.Context, grant syncapi.AuthResponse, provider records.AuthProvider) (records.Profile, error) {
	userID := strings.TrimSpace(grant.UserID)
	if userID == "" || grant.AccessToken == "" {
		return records.Profile{}, newServiceError(opSignedIn, reasonInvalid, ErrIncompleteGrant)
	}
	if provider == "" {
		provider = records.ProviderLocal
	}
	return sequence.Do(ctx, s.sequence, opSignedIn, func(jobCtx context.Context) (records.Profile, error) {
		var saved records.Profile
		err := s.store.Transaction(jobCtx, func(tx *records.Store) error {
			active, hasActive, err := tx.Profiles().Active(jobCtx)
			if err != nil {
				return err
			}
			profile := records.Profile{
				ID:          userID,
				Email:       grant.Email,
				DisplayName: grant.Name,
				Provider:    provider,
			}
			existing, err := tx.Profiles().Get(jobCtx, userID)
			switch {
			case err == nil:
				profile.CreatedAt = existing.CreatedAt
			case !errors.Is(err, records.ErrNotFound):
				return err
			}
			if hasActive && active.ID == userID {
				profile.LastSyncTime = active.LastSyncTime
			} else if hasActive {
				if err := reset(jobCtx, tx); err != nil {
					return err
				}
			}
			if saved, err = tx.Profiles().Save(jobCtx, profile); err != nil {
				return err
			}
			return tx.Profiles().Activate(jobCtx, userID)
		})
		if err != nil {
			return records.Profile{}, s.fail(opSignedIn, err)
		}
		if _, err := s.credentials.Save(jobCtx, userID, grant); err != nil {
			return records.Profile{}, s.fail(opSignedIn, err)
		}
		saved.IsActive = true
		s.logger.Info("profile signed in", zap.String("profile_id", userID), zap.String("provider", string(provider)))
		return saved, nil
	})
}

// Switch makes id the active profile, replacing the local data set with the
// defaults. The next sync pulls the profile's data from scratch.
func (s *Service) Switch(ctx context.Context, id string) (records.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return records.Profile{}, newServiceError(opSwitch, reasonInvalid, records.ErrInvalidProfileID)
	}
	return sequence.Do(ctx, s.sequence, opSwitch, func(jobCtx context.Context) (records.Profile, error) {
		var target records.Profile
		err := s.store.Transaction(jobCtx, func(tx *records.Store) error {
			var err error
			if target, err = tx.Profiles().Get(jobCtx, id); err != nil {
				return err
			}
			if err := reset(jobCtx, tx); err != nil {
				return err
			}
			target.LastSyncTime = nil
			if _, err := tx.Profiles().Save(jobCtx, target); err != nil {
				return err
			}
			return tx.Profiles().Activate(jobCtx, id)
		})
		if err != nil {
			return records.Profile{}, s.fail(opSwitch, err)
		}
		target.IsActive = true
		s.logger.Info("profile switched", zap.String("profile_id", id))
		return target, nil
	})
}

// SignOut notifies the service when possible, then forgets the active
// grant, wipes the local data set and leaves no profile active.
func (s *Service) SignOut(ctx context.Context) error {
	if s.remote != nil {
		if err := s.remote.Logout(ctx); err != nil {
			s.logger.Warn("remote logout failed", zap.Error(err))
		}
	}
	return sequence.Exec(ctx, s.sequence, opSignOut, func(jobCtx context.Context) error {
		active, hasActive, err := s.store.Profiles().Active(jobCtx)
		if err != nil {
			return s.fail(opSignOut, err)
		}
		if hasActive {
			if err := s.credentials.Clear(jobCtx, active.ID); err != nil {
				return s.fail(opSignOut, err)
			}
		}
		err = s.store.Transaction(jobCtx, func(tx *records.Store) error {
			if err := reset(jobCtx, tx); err != nil {
				return err
			}
			return tx.Profiles().DeactivateAll(jobCtx)
		})
		if err != nil {
			return s.fail(opSignOut, err)
		}
		if hasActive {
			s.logger.Info("profile signed out", zap.String("profile_id", active.ID))
		}
		return nil
	})
}

// List returns the known profiles, newest first.
func (s *Service) List(ctx context.Context) ([]records.Profile, error) {
	return s.store.Profiles().List(ctx)
}

// Active returns the active profile, if any.
func (s *Service) Active(ctx context.Context) (records.Profile, bool, error) {
	return s.store.Profiles().Active(ctx)
}

func reset(ctx context.Context, tx *records.Store) error {
	if err := tx.ClearLocalData(ctx); err != nil {
		return err
	}
	_, err := tx.Categories().SeedDefaults(ctx)
	return err
}

func (s *Service) fail(operation string, err error) error {
	s.logger.Error("profile operation failed",
		zap.String("operation", operation),
		zap.String("reason", reasonStoreFailed),
		zap.Error(err))
	return newServiceError(operation, reasonStoreFailed, err)
}
