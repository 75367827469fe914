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
	opSnapshotUpsert      = "records.snapshots.upsert"
	opSnapshotPut         = "records.snapshots.put"
	opSnapshotGet         = "records.snapshots.get"
	opSnapshotDelete      = "records.snapshots.delete"
	opSnapshotMarkDeleted = "records.snapshots.mark_deleted"
	opSnapshotList        = "records.snapshots.list"
	opSnapshotMaintain    = "records.snapshots.maintain"
	opSnapshotAggregate   = "records.snapshots.aggregate"
)

// SnapshotRow is the persisted form of a Snapshot.
type SnapshotRow struct {
	Date        string `gorm:"column:date;primaryKey;size:10;not null;index:idx_snapshots_category_date,priority:2"`
	CategoryID  string `gorm:"column:category_id;primaryKey;size:190;not null;index:idx_snapshots_category_date,priority:1"`
	Amount      int64  `gorm:"column:amount;not null"`
	Memo        string `gorm:"column:memo;type:text;not null"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null"`
	SyncState   int    `gorm:"column:sync_state;not null;index:idx_snapshots_sync_state"`
}

// TableName provides the explicit table binding for GORM.
func (SnapshotRow) TableName() string {
	return "asset_snapshots"
}

func snapshotRowOf(snapshot Snapshot) SnapshotRow {
	return SnapshotRow{
		Date:        snapshot.Date.String(),
		CategoryID:  snapshot.CategoryID.String(),
		Amount:      snapshot.Amount,
		Memo:        snapshot.Memo,
		UpdatedAtMs: snapshot.LastModified,
		SyncState:   int(snapshot.State),
	}
}

func (row SnapshotRow) snapshot() Snapshot {
	return Snapshot{
		Date:       Date(row.Date),
		CategoryID: CategoryID(row.CategoryID),
		Amount:     row.Amount,
		Memo:       row.Memo,
		Stamp: Stamp{
			LastModified: row.UpdatedAtMs,
			State:        SyncState(row.SyncState),
		},
	}
}

func snapshotsOf(rows []SnapshotRow) []Snapshot {
	snapshots := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snapshots = append(snapshots, row.snapshot())
	}
	return snapshots
}

// SnapshotStore reads and writes snapshots.
type SnapshotStore struct {
	store *Store
}

// Upsert fully replaces the snapshot at its key and stamps it modified.
func (s *SnapshotStore) Upsert(ctx context.Context, snapshot Snapshot) (Snapshot, error) {
	if err := snapshot.validate(); err != nil {
		return Snapshot{}, newStoreError(opSnapshotUpsert, reasonInvalidInput, err)
	}
	snapshot.MarkModified(s.store.Now())
	if err := s.write(ctx, opSnapshotUpsert, snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// UpsertBatch upserts every snapshot in one transaction.
func (s *SnapshotStore) UpsertBatch(ctx context.Context, snapshots []Snapshot) ([]Snapshot, error) {
	stored := make([]Snapshot, 0, len(snapshots))
	err := s.store.Transaction(ctx, func(tx *Store) error {
		for _, snapshot := range snapshots {
			written, err := tx.Snapshots().Upsert(ctx, snapshot)
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

// Put writes the snapshot verbatim, keeping its timestamp and state.
func (s *SnapshotStore) Put(ctx context.Context, snapshot Snapshot) error {
	if err := snapshot.validate(); err != nil {
		return newStoreError(opSnapshotPut, reasonInvalidInput, err)
	}
	return s.write(ctx, opSnapshotPut, snapshot)
}

func (s *SnapshotStore) write(ctx context.Context, operation string, snapshot Snapshot) error {
	row := snapshotRowOf(snapshot)
	err := s.store.session(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return s.store.fail(operation, reasonWriteFailed, err,
			zap.String("date", row.Date),
			zap.String("category_id", row.CategoryID))
	}
	return nil
}

// Get returns the snapshot at key in any state, including tombstones.
func (s *SnapshotStore) Get(ctx context.Context, key SnapshotKey) (Snapshot, error) {
	var row SnapshotRow
	err := s.store.session(ctx).
		Where("date = ? AND category_id = ?", key.Date.String(), key.CategoryID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, newStoreError(opSnapshotGet, reasonNotFound,
			fmt.Errorf("%w: snapshot %s/%s", ErrNotFound, key.Date, key.CategoryID))
	}
	if err != nil {
		return Snapshot{}, s.store.fail(opSnapshotGet, reasonQueryFailed, err)
	}
	return row.snapshot(), nil
}

// Delete removes the snapshot immediately, bypassing the sync lifecycle.
func (s *SnapshotStore) Delete(ctx context.Context, key SnapshotKey) error {
	err := s.store.session(ctx).
		Where("date = ? AND category_id = ?", key.Date.String(), key.CategoryID.String()).
		Delete(&SnapshotRow{}).Error
	if err != nil {
		return s.store.fail(opSnapshotDelete, reasonWriteFailed, err,
			zap.String("date", key.Date.String()),
			zap.String("category_id", key.CategoryID.String()))
	}
	return nil
}

// MarkDeleted turns the snapshot into a tombstone awaiting push.
func (s *SnapshotStore) MarkDeleted(ctx context.Context, key SnapshotKey) (Snapshot, error) {
	snapshot, err := s.Get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.MarkDeleted(s.store.Now())
	if err := s.write(ctx, opSnapshotMarkDeleted, snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// ListAll returns live snapshots, newest date first.
func (s *SnapshotStore) ListAll(ctx context.Context) ([]Snapshot, error) {
	return s.list(s.live(ctx).Order("date DESC").Order("category_id ASC"))
}

// ListByCategory returns the live history of one category in ascending date order.
func (s *SnapshotStore) ListByCategory(ctx context.Context, categoryID CategoryID) ([]Snapshot, error) {
	return s.list(s.live(ctx).Where("category_id = ?", categoryID.String()).Order("date ASC"))
}

// ListByDate returns the live snapshots recorded on one day.
func (s *SnapshotStore) ListByDate(ctx context.Context, date Date) ([]Snapshot, error) {
	return s.list(s.live(ctx).Where("date = ?", date.String()).Order("category_id ASC"))
}

// ListUpTo returns live snapshots dated on or before the given day in ascending date order.
func (s *SnapshotStore) ListUpTo(ctx context.Context, date Date) ([]Snapshot, error) {
	return s.list(s.live(ctx).Where("date <= ?", date.String()).Order("date ASC").Order("category_id ASC"))
}

// ListDirty returns modified snapshots and tombstones, oldest change first.
func (s *SnapshotStore) ListDirty(ctx context.Context) ([]Snapshot, error) {
	query := s.store.session(ctx).
		Where("sync_state <> ?", int(StateSynced)).
		Order("updated_at_ms ASC").Order("date ASC").Order("category_id ASC")
	return s.list(query)
}

// CountDirty returns the number of snapshots awaiting push.
func (s *SnapshotStore) CountDirty(ctx context.Context) (int64, error) {
	var count int64
	err := s.store.session(ctx).Model(&SnapshotRow{}).
		Where("sync_state <> ?", int(StateSynced)).
		Count(&count).Error
	if err != nil {
		return 0, s.store.fail(opSnapshotList, reasonQueryFailed, err)
	}
	return count, nil
}

// MarkAllSynced moves every modified snapshot to synced. Tombstones are untouched.
func (s *SnapshotStore) MarkAllSynced(ctx context.Context) (int64, error) {
	result := s.store.session(ctx).Model(&SnapshotRow{}).
		Where("sync_state = ?", int(StateModified)).
		Update("sync_state", int(StateSynced))
	if result.Error != nil {
		return 0, s.store.fail(opSnapshotMaintain, reasonWriteFailed, result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeTombstones hard-deletes every pending-delete snapshot.
func (s *SnapshotStore) PurgeTombstones(ctx context.Context) (int64, error) {
	result := s.store.session(ctx).
		Where("sync_state = ?", int(StatePendingDelete)).
		Delete(&SnapshotRow{})
	if result.Error != nil {
		return 0, s.store.fail(opSnapshotMaintain, reasonWriteFailed, result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteAll removes every snapshot regardless of state.
func (s *SnapshotStore) DeleteAll(ctx context.Context) error {
	if err := s.store.session(ctx).Where("1 = 1").Delete(&SnapshotRow{}).Error; err != nil {
		return s.store.fail(opSnapshotMaintain, reasonWriteFailed, err)
	}
	return nil
}

// ClosestPrior returns the live snapshot of the category with the greatest
// date not after target. The boolean is false when no such snapshot exists.
func (s *SnapshotStore) ClosestPrior(ctx context.Context, categoryID CategoryID, target Date) (Snapshot, bool, error) {
	var rows []SnapshotRow
	err := s.live(ctx).
		Where("category_id = ? AND date <= ?", categoryID.String(), target.String()).
		Order("date DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return Snapshot{}, false, s.store.fail(opSnapshotAggregate, reasonQueryFailed, err,
			zap.String("category_id", categoryID.String()),
			zap.String("date", target.String()))
	}
	if len(rows) == 0 {
		return Snapshot{}, false, nil
	}
	return rows[0].snapshot(), true, nil
}

const latestPerCategoryQuery = `
SELECT s.* FROM asset_snapshots s
WHERE s.sync_state <> ? AND s.date = (
	SELECT MAX(p.date) FROM asset_snapshots p
	WHERE p.category_id = s.category_id AND p.date <= ? AND p.sync_state <> ?
)
ORDER BY s.category_id ASC`

// LatestPerCategory returns, for every category with live history on or
// before target, its closest-prior snapshot.
func (s *SnapshotStore) LatestPerCategory(ctx context.Context, target Date) ([]Snapshot, error) {
	var rows []SnapshotRow
	err := s.store.session(ctx).
		Raw(latestPerCategoryQuery, int(StatePendingDelete), target.String(), int(StatePendingDelete)).
		Scan(&rows).Error
	if err != nil {
		return nil, s.store.fail(opSnapshotAggregate, reasonQueryFailed, err, zap.String("date", target.String()))
	}
	return snapshotsOf(rows), nil
}

// CategoryIDs returns the distinct category ids that have live snapshots.
func (s *SnapshotStore) CategoryIDs(ctx context.Context) ([]CategoryID, error) {
	var ids []string
	err := s.live(ctx).Model(&SnapshotRow{}).
		Distinct("category_id").
		Order("category_id ASC").
		Pluck("category_id", &ids).Error
	if err != nil {
		return nil, s.store.fail(opSnapshotAggregate, reasonQueryFailed, err)
	}
	categoryIDs := make([]CategoryID, 0, len(ids))
	for _, id := range ids {
		categoryIDs = append(categoryIDs, CategoryID(id))
	}
	return categoryIDs, nil
}

func (s *SnapshotStore) live(ctx context.Context) *gorm.DB {
	return s.store.session(ctx).Where("sync_state <> ?", int(StatePendingDelete))
}

func (s *SnapshotStore) list(query *gorm.DB) ([]Snapshot, error) {
	var rows []SnapshotRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, s.store.fail(opSnapshotList, reasonQueryFailed, err)
	}
	return snapshotsOf(rows), nil
}
