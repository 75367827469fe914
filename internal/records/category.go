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
	opCategoryUpsert      = "records.categories.upsert"
	opCategoryPut         = "records.categories.put"
	opCategoryGet         = "records.categories.get"
	opCategoryDelete      = "records.categories.delete"
	opCategoryMarkDeleted = "records.categories.mark_deleted"
	opCategoryList        = "records.categories.list"
	opCategoryMaintain    = "records.categories.maintain"
	opCategorySeed        = "records.categories.seed"
)

const defaultIconPrefix = "ic_category_"

// DefaultCategories returns the categories every fresh database starts with.
// Seeds are synced and carry timestamp zero, so any copy on the remote
// service supersedes them.
func DefaultCategories() []Category {
	seeds := []struct {
		id   string
		name string
	}{
		{id: "cash", name: "Cash"},
		{id: "bank", name: "Bank"},
		{id: "stock", name: "Stock"},
		{id: "fund", name: "Fund"},
		{id: "real_estate", name: "Real Estate"},
		{id: "crypto", name: "Crypto"},
		{id: "other", name: "Other"},
	}
	categories := make([]Category, 0, len(seeds))
	for index, seed := range seeds {
		categories = append(categories, Category{
			ID:        CategoryID(seed.id),
			Name:      seed.name,
			Icon:      defaultIconPrefix + seed.id,
			SortOrder: index,
			IsDefault: true,
			Stamp:     Stamp{LastModified: 0, State: StateSynced},
		})
	}
	return categories
}

// CategoryRow is the persisted form of a Category.
type CategoryRow struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null"`
	Name        string `gorm:"column:name;size:190;not null"`
	Icon        string `gorm:"column:icon;size:190;not null"`
	SortOrder   int    `gorm:"column:sort_order;not null;index:idx_categories_sort"`
	IsDefault   bool   `gorm:"column:is_default;not null"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null"`
	SyncState   int    `gorm:"column:sync_state;not null;index:idx_categories_sync_state"`
}

// TableName provides the explicit table binding for GORM.
func (CategoryRow) TableName() string {
	return "categories"
}

func categoryRowOf(category Category) CategoryRow {
	return CategoryRow{
		ID:          category.ID.String(),
		Name:        category.Name,
		Icon:        category.Icon,
		SortOrder:   category.SortOrder,
		IsDefault:   category.IsDefault,
		UpdatedAtMs: category.LastModified,
		SyncState:   int(category.State),
	}
}

func (row CategoryRow) category() Category {
	return Category{
		ID:        CategoryID(row.ID),
		Name:      row.Name,
		Icon:      row.Icon,
		SortOrder: row.SortOrder,
		IsDefault: row.IsDefault,
		Stamp: Stamp{
			LastModified: row.UpdatedAtMs,
			State:        SyncState(row.SyncState),
		},
	}
}

func categoriesOf(rows []CategoryRow) []Category {
	categories := make([]Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, row.category())
	}
	return categories
}

// CategoryStore reads and writes categories.
type CategoryStore struct {
	store *Store
}

// Upsert fully replaces the category at its id and stamps it modified.
func (s *CategoryStore) Upsert(ctx context.Context, category Category) (Category, error) {
	if err := category.validate(); err != nil {
		return Category{}, newStoreError(opCategoryUpsert, reasonInvalidInput, err)
	}
	category.MarkModified(s.store.Now())
	if err := s.write(ctx, opCategoryUpsert, category); err != nil {
		return Category{}, err
	}
	return category, nil
}

// UpsertBatch upserts every category in one transaction.
func (s *CategoryStore) UpsertBatch(ctx context.Context, categories []Category) ([]Category, error) {
	stored := make([]Category, 0, len(categories))
	err := s.store.Transaction(ctx, func(tx *Store) error {
		for _, category := range categories {
			written, err := tx.Categories().Upsert(ctx, category)
			if err != nil {
				return err
			}
			stored = append(stored, written)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Put writes the category verbatim, keeping its timestamp and state.
func (s *CategoryStore) Put(ctx context.Context, category Category) error {
	if err := category.validate(); err != nil {
		return newStoreError(opCategoryPut, reasonInvalidInput, err)
	}
	return s.write(ctx, opCategoryPut, category)
}

func (s *CategoryStore) write(ctx context.Context, operation string, category Category) error {
	row := categoryRowOf(category)
	err := s.store.session(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return s.store.fail(operation, reasonWriteFailed, err, zap.String("category_id", row.ID))
	}
	return nil
}

// SeedDefaults inserts the default categories that are not already present.
// Existing rows, including user edits of defaults, are left untouched.
func (s *CategoryStore) SeedDefaults(ctx context.Context) (int64, error) {
	defaults := DefaultCategories()
	rows := make([]CategoryRow, 0, len(defaults))
	for _, category := range defaults {
		rows = append(rows, categoryRowOf(category))
	}
	result := s.store.session(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	if result.Error != nil {
		return 0, s.store.fail(opCategorySeed, reasonWriteFailed, result.Error)
	}
	return result.RowsAffected, nil
}

// Get returns the category in any state, including tombstones.
func (s *CategoryStore) Get(ctx context.Context, id CategoryID) (Category, error) {
	var row CategoryRow
	err := s.store.session(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Category{}, newStoreError(opCategoryGet, reasonNotFound,
			fmt.Errorf("%w: category %s", ErrNotFound, id))
	}
	if err != nil {
		return Category{}, s.store.fail(opCategoryGet, reasonQueryFailed, err)
	}
	return row.category(), nil
}

// Delete removes the category immediately, bypassing the sync lifecycle.
func (s *CategoryStore) Delete(ctx context.Context, id CategoryID) error {
	if err := s.store.session(ctx).Where("id = ?", id.String()).Delete(&CategoryRow{}).Error; err != nil {
		return s.store.fail(opCategoryDelete, reasonWriteFailed, err, zap.String("category_id", id.String()))
	}
	return nil
}

// MarkDeleted turns the category into a tombstone awaiting push.
func (s *CategoryStore) MarkDeleted(ctx context.Context, id CategoryID) (Category, error) {
	category, err := s.Get(ctx, id)
	if err != nil {
		return Category{}, err
	}
	category.MarkDeleted(s.store.Now())
	if err := s.write(ctx, opCategoryMarkDeleted, category); err != nil {
		return Category{}, err
	}
	return category, nil
}

// ListAll returns live categories ordered by sort order, ties by id.
func (s *CategoryStore) ListAll(ctx context.Context) ([]Category, error) {
	query := s.store.session(ctx).
		Where("sync_state <> ?", int(StatePendingDelete)).
		Order("sort_order ASC").Order("id ASC")
	return s.list(query)
}

// ListDefaults returns the live default categories.
func (s *CategoryStore) ListDefaults(ctx context.Context) ([]Category, error) {
	query := s.store.session(ctx).
		Where("sync_state <> ? AND is_default = ?", int(StatePendingDelete), true).
		Order("sort_order ASC").Order("id ASC")
	return s.list(query)
}

// ListDirty returns modified categories and tombstones, oldest change first.
func (s *CategoryStore) ListDirty(ctx context.Context) ([]Category, error) {
	query := s.store.session(ctx).
		Where("sync_state <> ?", int(StateSynced)).
		Order("updated_at_ms ASC").Order("id ASC")
	return s.list(query)
}

// CountDirty returns the number of categories awaiting push.
func (s *CategoryStore) CountDirty(ctx context.Context) (int64, error) {
	var count int64
	err := s.store.session(ctx).Model(&CategoryRow{}).
		Where("sync_state <> ?", int(StateSynced)).
		Count(&count).Error
	if err != nil {
		return 0, s.store.fail(opCategoryList, reasonQueryFailed, err)
	}
	return count, nil
}

// MaxSortOrder returns the highest sort order among live categories, or -1.
func (s *CategoryStore) MaxSortOrder(ctx context.Context) (int, error) {
	var result struct {
		Maximum *int64 `gorm:"column:maximum"`
	}
	err := s.store.session(ctx).Model(&CategoryRow{}).
		Where("sync_state <> ?", int(StatePendingDelete)).
		Select("MAX(sort_order) AS maximum").
		Scan(&result).Error
	if err != nil {
		return 0, s.store.fail(opCategoryList, reasonQueryFailed, err)
	}
	if result.Maximum == nil {
		return -1, nil
	}
	return int(*result.Maximum), nil
}

// MarkAllSynced moves every modified category to synced. Tombstones are untouched.
func (s *CategoryStore) MarkAllSynced(ctx context.Context) (int64, error) {
	result := s.store.session(ctx).Model(&CategoryRow{}).
		Where("sync_state = ?", int(StateModified)).
		Update("sync_state", int(StateSynced))
	if result.Error != nil {
		return 0, s.store.fail(opCategoryMaintain, reasonWriteFailed, result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeTombstones hard-deletes every pending-delete category.
func (s *CategoryStore) PurgeTombstones(ctx context.Context) (int64, error) {
	result := s.store.session(ctx).
		Where("sync_state = ?", int(StatePendingDelete)).
		Delete(&CategoryRow{})
	if result.Error != nil {
		return 0, s.store.fail(opCategoryMaintain, reasonWriteFailed, result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteAll removes every category regardless of state.
func (s *CategoryStore) DeleteAll(ctx context.Context) error {
	if err := s.store.session(ctx).Where("1 = 1").Delete(&CategoryRow{}).Error; err != nil {
		return s.store.fail(opCategoryMaintain, reasonWriteFailed, err)
	}
	return nil
}

func (s *CategoryStore) list(query *gorm.DB) ([]Category, error) {
	var rows []CategoryRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, s.store.fail(opCategoryList, reasonQueryFailed, err)
	}
	return categoriesOf(rows), nil
}
