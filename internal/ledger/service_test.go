package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/sequence"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixedIDProvider struct {
	ids []string
}

func (p *fixedIDProvider) NewID() (string, error) {
	if len(p.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := p.ids[0]
	p.ids = p.ids[1:]
	return id, nil
}

func newTestService(t *testing.T, ids ...string) (*Service, *records.Store) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(records.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := records.NewStore(records.StoreConfig{
		Database: database,
		Clock:    func() time.Time { return time.UnixMilli(1_710_000_000_000) },
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if _, err := store.Categories().SeedDefaults(context.Background()); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	sequencer := sequence.New(sequence.Config{})
	t.Cleanup(sequencer.Close)
	service, err := NewService(ServiceConfig{Store: store, Sequence: sequencer, IDProvider: &fixedIDProvider{ids: ids}})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, store
}

func TestRecordSnapshotStampsModified(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	written, err := service.RecordSnapshot(ctx, SnapshotInput{Date: "2024-03-10", CategoryID: "cash", Amount: 12_500, Memo: " wallet "})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if written.State != records.StateModified || written.LastModified != 1_710_000_000_000 || written.Memo != "wallet" {
		t.Fatalf("unexpected written snapshot %+v", written)
	}
	dirty, err := store.Snapshots().CountDirty(ctx)
	if err != nil || dirty != 1 {
		t.Fatalf("expected one dirty snapshot, got %d %v", dirty, err)
	}
}

func TestRecordSnapshotRejectsMalformedDate(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.RecordSnapshot(context.Background(), SnapshotInput{Date: "10.03.2024", CategoryID: "cash", Amount: 1})
	if !errors.Is(err, records.ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "ledger.record_snapshot.invalid_input" {
		t.Fatalf("unexpected error code: %v", err)
	}
}

func TestDeleteAndPurgeSnapshot(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	for _, input := range []SnapshotInput{
		{Date: "2024-03-01", CategoryID: "cash", Amount: 1},
		{Date: "2024-03-02", CategoryID: "cash", Amount: 2},
	} {
		if _, err := service.RecordSnapshot(ctx, input); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	if err := service.DeleteSnapshot(ctx, records.SnapshotKey{Date: "2024-03-01", CategoryID: "cash"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	tombstone, err := store.Snapshots().Get(ctx, records.SnapshotKey{Date: "2024-03-01", CategoryID: "cash"})
	if err != nil || tombstone.State != records.StatePendingDelete {
		t.Fatalf("expected tombstone, got %+v %v", tombstone, err)
	}

	if err := service.PurgeSnapshot(ctx, records.SnapshotKey{Date: "2024-03-02", CategoryID: "cash"}); err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if _, err := store.Snapshots().Get(ctx, records.SnapshotKey{Date: "2024-03-02", CategoryID: "cash"}); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected permanent delete, got %v", err)
	}
}

func TestDefaultCategoriesAreProtected(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	if err := service.DeleteCategory(ctx, "cash"); !errors.Is(err, ErrDefaultCategory) {
		t.Fatalf("expected ErrDefaultCategory, got %v", err)
	}
	category, err := store.Categories().Get(ctx, "cash")
	if err != nil || category.State != records.StateSynced {
		t.Fatalf("default category must be untouched, got %+v %v", category, err)
	}
}

func TestCreateCategoryGeneratesIDAndAppends(t *testing.T) {
	service, store := newTestService(t, "0190f0c8-0000-7000-8000-000000000001")
	ctx := context.Background()

	created, err := service.CreateCategory(ctx, CategoryInput{Name: "Pension"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != "0190f0c8-0000-7000-8000-000000000001" || created.SortOrder != 7 || created.IsDefault {
		t.Fatalf("unexpected category %+v", created)
	}
	if created.Icon != defaultCustomIcon || created.State != records.StateModified {
		t.Fatalf("unexpected icon or state %+v", created)
	}

	if err := service.DeleteCategory(ctx, created.ID); err != nil {
		t.Fatalf("delete custom category failed: %v", err)
	}
	listed, err := store.Categories().ListAll(ctx)
	if err != nil || len(listed) != 7 {
		t.Fatalf("expected deleted category to be hidden, got %d %v", len(listed), err)
	}
	if _, err := service.CreateCategory(ctx, CategoryInput{Name: "  "}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestUpdateAndReorderCategories(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	updated, err := service.UpdateCategory(ctx, CategoryInput{ID: "bank", Name: "Savings"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Name != "Savings" || !updated.IsDefault || updated.Icon != "ic_category_bank" {
		t.Fatalf("unexpected update %+v", updated)
	}

	if err := service.ReorderCategories(ctx, []records.CategoryID{"other", "cash"}); err != nil {
		t.Fatalf("reorder failed: %v", err)
	}
	listed, err := store.Categories().ListAll(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if listed[0].ID != "other" {
		t.Fatalf("expected other first, got %s", listed[0].ID)
	}
	cash, err := store.Categories().Get(ctx, "cash")
	if err != nil || cash.SortOrder != 1 || cash.State != records.StateModified {
		t.Fatalf("expected cash at sort order 1 and modified, got %+v %v", cash, err)
	}
}

func TestReorderRefusesDeletedCategory(t *testing.T) {
	service, store := newTestService(t, "0190f0c8-0000-7000-8000-000000000002")
	ctx := context.Background()

	created, err := service.CreateCategory(ctx, CategoryInput{Name: "Pension"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := service.DeleteCategory(ctx, created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	err = service.ReorderCategories(ctx, []records.CategoryID{"bank", created.ID})
	if !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a deleted category, got %v", err)
	}

	tombstone, err := store.Categories().Get(ctx, created.ID)
	if err != nil || tombstone.State != records.StatePendingDelete {
		t.Fatalf("expected category to stay pending delete, got %+v %v", tombstone, err)
	}
	bank, err := store.Categories().Get(ctx, "bank")
	if err != nil || bank.SortOrder != 1 || bank.State != records.StateSynced {
		t.Fatalf("expected reorder to roll back, got %+v %v", bank, err)
	}
}
