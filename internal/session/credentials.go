package session

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Credentials is the token grant stored for one profile.
// ExpiresAt is epoch milliseconds; zero means the lifetime is unknown.
type Credentials struct {
	ProfileID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// CredentialRow is the persisted form of Credentials.
type CredentialRow struct {
	ProfileID    string `gorm:"column:profile_id;primaryKey;size:190;not null"`
	AccessToken  string `gorm:"column:access_token;type:text;not null"`
	RefreshToken string `gorm:"column:refresh_token;type:text;not null"`
	ExpiresAtMs  int64  `gorm:"column:expires_at_ms;not null"`
	UpdatedAtMs  int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CredentialRow) TableName() string {
	return "session_credentials"
}

type credentialStore struct {
	db *gorm.DB
}

func (s credentialStore) save(ctx context.Context, credentials Credentials, updatedAt int64) error {
	row := CredentialRow{
		ProfileID:    credentials.ProfileID,
		AccessToken:  credentials.AccessToken,
		RefreshToken: credentials.RefreshToken,
		ExpiresAtMs:  credentials.ExpiresAt,
		UpdatedAtMs:  updatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s credentialStore) load(ctx context.Context, profileID string) (Credentials, bool, error) {
	var row CredentialRow
	err := s.db.WithContext(ctx).Where("profile_id = ?", profileID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, fmt.Errorf("session: load credentials: %w", err)
	}
	return Credentials{
		ProfileID:    row.ProfileID,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAtMs,
	}, true, nil
}

func (s credentialStore) clear(ctx context.Context, profileID string) error {
	return s.db.WithContext(ctx).Where("profile_id = ?", profileID).Delete(&CredentialRow{}).Error
}
