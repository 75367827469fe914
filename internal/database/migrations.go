package database

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/accounts"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedDefaultCategories = "2024-01-01_seed_default_categories"
	migrationNormalizeAccountEmail = "2024-01-01_normalize_account_email"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func clientMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationSeedDefaultCategories, apply: seedDefaultCategories},
	}
}

func serverMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationNormalizeAccountEmail, apply: normalizeAccountEmail},
	}
}

// applyMigrations runs each migration that has no ledger row yet, recording
// it in the same transaction.
func applyMigrations(db *gorm.DB, migrations []migrationDefinition, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedDefaultCategories(db *gorm.DB) error {
	store, err := records.NewStore(records.StoreConfig{Database: db})
	if err != nil {
		return err
	}
	_, err = store.Categories().SeedDefaults(context.Background())
	return err
}

func normalizeAccountEmail(db *gorm.DB) error {
	return db.Model(&accounts.Account{}).
		Where("email <> lower(trim(email))").
		Update("email", gorm.Expr("lower(trim(email))")).Error
}
