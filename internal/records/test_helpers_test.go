package records

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stepClock struct {
	current time.Time
}

func (c *stepClock) Now() time.Time {
	return c.current
}

func (c *stepClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newStepClock() *stepClock {
	return &stepClock{current: time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func newTestStore(t *testing.T, clock *stepClock) *Store {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "records.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := database.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: database, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustDate(t *testing.T, value string) Date {
	t.Helper()
	date, err := NewDate(value)
	if err != nil {
		t.Fatalf("unexpected date error: %v", err)
	}
	return date
}
