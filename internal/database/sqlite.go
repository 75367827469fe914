package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/accounts"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/cloud"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/session"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenClient opens the local database of the client and migrates the record
// store and credential schema. Default categories are seeded once.
func OpenClient(path string, log *zap.Logger) (*gorm.DB, error) {
	models := append(records.Models(), &session.CredentialRow{})
	return open(path, models, clientMigrations(), log)
}

// OpenServer opens the sync service database.
func OpenServer(path string, log *zap.Logger) (*gorm.DB, error) {
	models := append(cloud.Models(), &accounts.Account{})
	return open(path, models, serverMigrations(), log)
}

func open(path string, models []any, migrations []migrationDefinition, log *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(append(models, &migrationRecord{})...); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if err := applyMigrations(db, migrations, log); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if log != nil {
		log.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
