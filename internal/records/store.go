package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreError carries an operation.reason code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

const (
	reasonInvalidInput = "invalid_input"
	reasonQueryFailed  = "query_failed"
	reasonWriteFailed  = "write_failed"
	reasonNotFound     = "not_found"
)

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is the durable keyed storage for snapshots, categories and profiles.
// It does not serialize writers itself; callers funnel mutations through a
// single sequence.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError("records.store.new", "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// WithTx returns a Store bound to the provided transaction handle.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, clock: s.clock, logger: s.logger}
}

// Transaction runs fn with a Store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}

// Now returns the store clock's current time in UTC.
func (s *Store) Now() time.Time {
	return s.clock().UTC()
}

// Snapshots exposes snapshot operations.
func (s *Store) Snapshots() *SnapshotStore {
	return &SnapshotStore{store: s}
}

// Categories exposes category operations.
func (s *Store) Categories() *CategoryStore {
	return &CategoryStore{store: s}
}

// Profiles exposes profile operations.
func (s *Store) Profiles() *ProfileStore {
	return &ProfileStore{store: s}
}

// ClearLocalData hard-deletes every snapshot and category in one transaction.
// Profiles are kept.
func (s *Store) ClearLocalData(ctx context.Context) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.Snapshots().DeleteAll(ctx); err != nil {
			return err
		}
		return tx.Categories().DeleteAll(ctx)
	})
}

// CountDirty returns the number of dirty snapshots and categories combined.
func (s *Store) CountDirty(ctx context.Context) (int64, error) {
	snapshots, err := s.Snapshots().CountDirty(ctx)
	if err != nil {
		return 0, err
	}
	categories, err := s.Categories().CountDirty(ctx)
	if err != nil {
		return 0, err
	}
	return snapshots + categories, nil
}

func (s *Store) session(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("record store error", attrs...)
}

func (s *Store) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newStoreError(operation, reason, err)
}

// Models returns the gorm models backing the local store, for schema migration.
func Models() []any {
	return []any{&SnapshotRow{}, &CategoryRow{}, &ProfileRow{}}
}
