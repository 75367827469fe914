package accounts

import (
	"strings"
	"time"
)

// Account is a user of the sync service. Email is stored normalized.
type Account struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email           string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName     string    `gorm:"column:display_name;size:320"`
	PasswordHash    string    `gorm:"column:password_hash;size:128;not null"`
	TokenGeneration int64     `gorm:"column:token_generation;not null"`
	LastSeenAt      time.Time `gorm:"column:last_seen_at"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
