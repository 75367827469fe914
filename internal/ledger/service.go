// Package ledger is the user-facing editing path. Every write runs on the
// local sequence and goes through the record store, which stamps the sync
// state of the affected record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/sequence"
	"go.uber.org/zap"
)

var (
	// ErrDefaultCategory indicates an attempt to delete one of the seeded categories.
	ErrDefaultCategory = errors.New("ledger: default categories cannot be deleted")
	// ErrEmptyName indicates a category without a display name.
	ErrEmptyName = errors.New("ledger: category name is required")

	errMissingStore      = errors.New("record store is required")
	errMissingSequence   = errors.New("sequence is required")
	errMissingIDProvider = errors.New("id provider is required")
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
	opServiceNew       = "ledger.service.new"
	opRecordSnapshot   = "ledger.record_snapshot"
	opDeleteSnapshot   = "ledger.delete_snapshot"
	opPurgeSnapshot    = "ledger.purge_snapshot"
	opCreateCategory   = "ledger.create_category"
	opUpdateCategory   = "ledger.update_category"
	opDeleteCategory   = "ledger.delete_category"
	opReorderCategory  = "ledger.reorder_categories"
	defaultCustomIcon  = "ic_category_custom"
	reasonInvalidInput = "invalid_input"
	reasonStoreFailed  = "store_failed"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for user-created categories.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Store      *records.Store
	Sequence   *sequence.Sequencer
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service applies user edits.
type Service struct {
	store      *records.Store
	sequence   *sequence.Sequencer
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Sequence == nil {
		return nil, newServiceError(opServiceNew, "missing_sequence", errMissingSequence)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		sequence:   cfg.Sequence,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// SnapshotInput is a user entry of an amount for one category on one day.
type SnapshotInput struct {
	Date       string
	CategoryID string
	Amount     int64
	Memo       string
}

func (input SnapshotInput) snapshot() (records.Snapshot, error) {
	date, err := records.NewDate(input.Date)
	if err != nil {
		return records.Snapshot{}, err
	}
	categoryID, err := records.NewCategoryID(input.CategoryID)
	if err != nil {
		return records.Snapshot{}, err
	}
	return records.Snapshot{
		Date:       date,
		CategoryID: categoryID,
		Amount:     input.Amount,
		Memo:       strings.TrimSpace(input.Memo),
	}, nil
}

// RecordSnapshot writes or overwrites the amount for (date, category).
func (s *Service) RecordSnapshot(ctx context.Context, input SnapshotInput) (records.Snapshot, error) {
	snapshot, err := input.snapshot()
	if err != nil {
		return records.Snapshot{}, newServiceError(opRecordSnapshot, reasonInvalidInput, err)
	}
	return sequence.Do(ctx, s.sequence, opRecordSnapshot, func(jobCtx context.Context) (records.Snapshot, error) {
		written, err := s.store.Snapshots().Upsert(jobCtx, snapshot)
		if err != nil {
			return records.Snapshot{}, s.fail(opRecordSnapshot, err)
		}
		return written, nil
	})
}

// RecordSnapshots writes several entries atomically.
func (s *Service) RecordSnapshots(ctx context.Context, inputs []SnapshotInput) ([]records.Snapshot, error) {
	snapshots := make([]records.Snapshot, 0, len(inputs))
	for _, input := range inputs {
		snapshot, err := input.snapshot()
		if err != nil {
			return nil, newServiceError(opRecordSnapshot, reasonInvalidInput, err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return sequence.Do(ctx, s.sequence, opRecordSnapshot, func(jobCtx context.Context) ([]records.Snapshot, error) {
		written, err := s.store.Snapshots().UpsertBatch(jobCtx, snapshots)
		if err != nil {
			return nil, s.fail(opRecordSnapshot, err)
		}
		return written, nil
	})
}

// DeleteSnapshot tombstones the entry so the deletion reaches other devices.
func (s *Service) DeleteSnapshot(ctx context.Context, key records.SnapshotKey) error {
	if _, err := records.NewDate(key.Date.String()); err != nil {
		return newServiceError(opDeleteSnapshot, reasonInvalidInput, err)
	}
	return sequence.Exec(ctx, s.sequence, opDeleteSnapshot, func(jobCtx context.Context) error {
		if _, err := s.store.Snapshots().MarkDeleted(jobCtx, key); err != nil {
			return s.fail(opDeleteSnapshot, err)
		}
		return nil
	})
}

// PurgeSnapshot removes the entry locally without telling the service.
func (s *Service) PurgeSnapshot(ctx context.Context, key records.SnapshotKey) error {
	return sequence.Exec(ctx, s.sequence, opPurgeSnapshot, func(jobCtx context.Context) error {
		if err := s.store.Snapshots().Delete(jobCtx, key); err != nil {
			return s.fail(opPurgeSnapshot, err)
		}
		return nil
	})
}

// CategoryInput describes a user-created or edited category. An empty ID on
// create asks for a generated one.
type CategoryInput struct {
	ID   string
	Name string
	Icon string
}

// CreateCategory appends a custom category after the existing ones.
func (s *Service) CreateCategory(ctx context.Context, input CategoryInput) (records.Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return records.Category{}, newServiceError(opCreateCategory, reasonInvalidInput, ErrEmptyName)
	}
	rawID := strings.TrimSpace(input.ID)
	if rawID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			return records.Category{}, newServiceError(opCreateCategory, "id_generation_failed", err)
		}
		rawID = generated
	}
	id, err := records.NewCategoryID(rawID)
	if err != nil {
		return records.Category{}, newServiceError(opCreateCategory, reasonInvalidInput, err)
	}
	icon := strings.TrimSpace(input.Icon)
	if icon == "" {
		icon = defaultCustomIcon
	}

	return sequence.Do(ctx, s.sequence, opCreateCategory, func(jobCtx context.Context) (records.Category, error) {
		var created records.Category
		err := s.store.Transaction(jobCtx, func(tx *records.Store) error {
			maximum, err := tx.Categories().MaxSortOrder(jobCtx)
			if err != nil {
				return err
			}
			created, err = tx.Categories().Upsert(jobCtx, records.Category{
				ID:        id,
				Name:      name,
				Icon:      icon,
				SortOrder: maximum + 1,
			})
			return err
		})
		if err != nil {
			return records.Category{}, s.fail(opCreateCategory, err)
		}
		s.logger.Info("category created", zap.String("category_id", created.ID.String()))
		return created, nil
	})
}

// UpdateCategory renames or re-icons a category, keeping its order and default flag.
func (s *Service) UpdateCategory(ctx context.Context, input CategoryInput) (records.Category, error) {
	id, err := records.NewCategoryID(input.ID)
	if err != nil {
		return records.Category{}, newServiceError(opUpdateCategory, reasonInvalidInput, err)
	}
	return sequence.Do(ctx, s.sequence, opUpdateCategory, func(jobCtx context.Context) (records.Category, error) {
		var updated records.Category
		err := s.store.Transaction(jobCtx, func(tx *records.Store) error {
			existing, err := tx.Categories().Get(jobCtx, id)
			if err != nil {
				return err
			}
			if existing.State == records.StatePendingDelete {
				return fmt.Errorf("%w: category %s", records.ErrNotFound, id)
			}
			if name := strings.TrimSpace(input.Name); name != "" {
				existing.Name = name
			}
			if icon := strings.TrimSpace(input.Icon); icon != "" {
				existing.Icon = icon
			}
			updated, err = tx.Categories().Upsert(jobCtx, existing)
			return err
		})
		if err != nil {
			return records.Category{}, s.fail(opUpdateCategory, err)
		}
		return updated, nil
	})
}

// ReorderCategories assigns sort orders following ids. Categories not listed keep theirs.
// Listing a deleted category fails the whole reorder.
func (s *Service) ReorderCategories(ctx context.Context, ids []records.CategoryID) error {
	return sequence.Exec(ctx, s.sequence, opReorderCategory, func(jobCtx context.Context) error {
		err := s.store.Transaction(jobCtx, func(tx *records.Store) error {
			for index, id := range ids {
				category, err := tx.Categories().Get(jobCtx, id)
				if err != nil {
					return err
				}
				if category.State == records.StatePendingDelete {
					return fmt.Errorf("%w: category %s", records.ErrNotFound, id)
				}
				if category.SortOrder == index {
					continue
				}
				category.SortOrder = index
				if _, err := tx.Categories().Upsert(jobCtx, category); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return s.fail(opReorderCategory, err)
		}
		return nil
	})
}

// DeleteCategory tombstones a custom category. Its snapshots are kept.
func (s *Service) DeleteCategory(ctx context.Context, id records.CategoryID) error {
	return sequence.Exec(ctx, s.sequence, opDeleteCategory, func(jobCtx context.Context) error {
		existing, err := s.store.Categories().Get(jobCtx, id)
		if err != nil {
			return s.fail(opDeleteCategory, err)
		}
		if existing.IsDefault {
			return newServiceError(opDeleteCategory, "default_category", fmt.Errorf("%w: %s", ErrDefaultCategory, id))
		}
		if _, err := s.store.Categories().MarkDeleted(jobCtx, id); err != nil {
			return s.fail(opDeleteCategory, err)
		}
		return nil
	})
}

func (s *Service) fail(operation string, err error) error {
	s.logger.Error("ledger operation failed",
		zap.String("operation", operation),
		zap.String("reason", reasonStoreFailed),
		zap.Error(err))
	return newServiceError(operation, reasonStoreFailed, err)
}
