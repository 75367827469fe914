package records

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opProfileSave      = "records.profiles.save"
	opProfileGet       = "records.profiles.get"
	opProfileList      = "records.profiles.list"
	opProfileActivate  = "records.profiles.activate"
	opProfileWatermark = "records.profiles.update_last_sync_time"
	opProfileDelete    = "records.profiles.delete"
)

// ProfileRow is the persisted form of a Profile.
type ProfileRow struct {
	ID           string `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string `gorm:"column:email;size:320;not null"`
	DisplayName  string `gorm:"column:display_name;size:190;not null"`
	AuthProvider string `gorm:"column:auth_provider;size:16;not null"`
	IsActive     bool   `gorm:"column:is_active;not null;index:idx_profiles_active"`
	LastSyncMs   *int64 `gorm:"column:last_sync_ms"`
	CreatedAtMs  int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ProfileRow) TableName() string {
	return "user_profiles"
}

func profileRowOf(profile Profile) ProfileRow {
	return ProfileRow{
		ID:           profile.ID,
		Email:        profile.Email,
		DisplayName:  profile.DisplayName,
		AuthProvider: string(profile.Provider),
		IsActive:     profile.IsActive,
		LastSyncMs:   profile.LastSyncTime,
		CreatedAtMs:  profile.CreatedAt,
	}
}

func (row ProfileRow) profile() Profile {
	return Profile{
		ID:           row.ID,
		Email:        row.Email,
		DisplayName:  row.DisplayName,
		Provider:     AuthProvider(row.AuthProvider),
		IsActive:     row.IsActive,
		LastSyncTime: row.LastSyncMs,
		CreatedAt:    row.CreatedAtMs,
	}
}

// ProfileStore reads and writes the identities known to this device.
type ProfileStore struct {
	store *Store
}

// Save inserts or replaces the profile. A zero CreatedAt is set to now.
func (s *ProfileStore) Save(ctx context.Context, profile Profile) (Profile, error) {
	if err := profile.validate(); err != nil {
		return Profile{}, newStoreError(opProfileSave, reasonInvalidInput, err)
	}
	if profile.CreatedAt == 0 {
		profile.CreatedAt = s.store.Now().UnixMilli()
	}
	row := profileRowOf(profile)
	err := s.store.session(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return Profile{}, s.store.fail(opProfileSave, reasonWriteFailed, err, zap.String("profile_id", profile.ID))
	}
	return profile, nil
}

// Get returns the profile with the given id.
func (s *ProfileStore) Get(ctx context.Context, id string) (Profile, error) {
	var row ProfileRow
	err := s.store.session(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newStoreError(opProfileGet, reasonNotFound, fmt.Errorf("%w: profile %s", ErrNotFound, id))
	}
	if err != nil {
		return Profile{}, s.store.fail(opProfileGet, reasonQueryFailed, err)
	}
	return row.profile(), nil
}

// Active returns the active profile. The boolean is false when nobody is signed in.
func (s *ProfileStore) Active(ctx context.Context) (Profile, bool, error) {
	var rows []ProfileRow
	err := s.store.session(ctx).Where("is_active = ?", true).Limit(1).Find(&rows).Error
	if err != nil {
		return Profile{}, false, s.store.fail(opProfileGet, reasonQueryFailed, err)
	}
	if len(rows) == 0 {
		return Profile{}, false, nil
	}
	return rows[0].profile(), true, nil
}

// List returns every known profile, newest first.
func (s *ProfileStore) List(ctx context.Context) ([]Profile, error) {
	var rows []ProfileRow
	if err := s.store.session(ctx).Order("created_at_ms DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, s.store.fail(opProfileList, reasonQueryFailed, err)
	}
	profiles := make([]Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.profile())
	}
	return profiles, nil
}

// Activate makes id the only active profile.
func (s *ProfileStore) Activate(ctx context.Context, id string) error {
	return s.store.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.Profiles().Get(ctx, id); err != nil {
			return err
		}
		if err := tx.Profiles().DeactivateAll(ctx); err != nil {
			return err
		}
		err := tx.session(ctx).Model(&ProfileRow{}).Where("id = ?", id).Update("is_active", true).Error
		if err != nil {
			return tx.fail(opProfileActivate, reasonWriteFailed, err, zap.String("profile_id", id))
		}
		return nil
	})
}

// DeactivateAll clears the active flag on every profile.
func (s *ProfileStore) DeactivateAll(ctx context.Context) error {
	err := s.store.session(ctx).Model(&ProfileRow{}).Where("is_active = ?", true).Update("is_active", false).Error
	if err != nil {
		return s.store.fail(opProfileActivate, reasonWriteFailed, err)
	}
	return nil
}

// UpdateLastSyncTime records the sync watermark for the profile.
func (s *ProfileStore) UpdateLastSyncTime(ctx context.Context, id string, watermark int64) error {
	result := s.store.session(ctx).Model(&ProfileRow{}).Where("id = ?", id).Update("last_sync_ms", watermark)
	if result.Error != nil {
		return s.store.fail(opProfileWatermark, reasonWriteFailed, result.Error, zap.String("profile_id", id))
	}
	if result.RowsAffected == 0 {
		return newStoreError(opProfileWatermark, reasonNotFound, fmt.Errorf("%w: profile %s", ErrNotFound, id))
	}
	return nil
}

// Delete removes the profile.
func (s *ProfileStore) Delete(ctx context.Context, id string) error {
	if err := s.store.session(ctx).Where("id = ?", id).Delete(&ProfileRow{}).Error; err != nil {
		return s.store.fail(opProfileDelete, reasonWriteFailed, err, zap.String("profile_id", id))
	}
	return nil
}
