// Package cloud is the service side of the sync protocol: a per-account
// copy of every snapshot and category with last-writer-wins on push and
// incremental pulls keyed by the time each version was received.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidRecord indicates a pushed record that fails validation.
	ErrInvalidRecord = errors.New("cloud: invalid record")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()
)

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
	opServiceNew = "cloud.service.new"
	opPull       = "cloud.pull"
	opPush       = "cloud.push"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// PushResult summarizes one push.
type PushResult struct {
	ServerTime int64
	Accepted   int
	Ignored    int
}

// Pull returns every version received at or after since, tombstones
// included, and the service time to use as the next watermark. A nil since
// returns everything.
func (s *Service) Pull(ctx context.Context, userID string, since *int64) (syncapi.SyncResponse, error) {
	if userID == "" {
		s.logError(opPull, "missing_user_id", errMissingUserID)
		return syncapi.SyncResponse{}, newServiceError(opPull, "missing_user_id", errMissingUserID)
	}
	serverTime := s.clock().UTC().UnixMilli()

	snapshotQuery := s.db.WithContext(ctx).Where("user_id = ?", userID)
	categoryQuery := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if since != nil {
		snapshotQuery = snapshotQuery.Where("received_at_ms >= ?", *since)
		categoryQuery = categoryQuery.Where("received_at_ms >= ?", *since)
	}

	var snapshots []SnapshotRecord
	if err := snapshotQuery.Order("received_at_ms ASC").Order("date ASC").Order("category_id ASC").Find(&snapshots).Error; err != nil {
		s.logError(opPull, "query_failed", err, zap.String("user_id", userID))
		return syncapi.SyncResponse{}, newServiceError(opPull, "query_failed", err)
	}
	var categories []CategoryRecord
	if err := categoryQuery.Order("received_at_ms ASC").Order("category_id ASC").Find(&categories).Error; err != nil {
		s.logError(opPull, "query_failed", err, zap.String("user_id", userID))
		return syncapi.SyncResponse{}, newServiceError(opPull, "query_failed", err)
	}

	response := syncapi.SyncResponse{
		ServerTime: serverTime,
		Snapshots:  make([]syncapi.SnapshotDTO, 0, len(snapshots)),
		Categories: make([]syncapi.CategoryDTO, 0, len(categories)),
	}
	for _, record := range snapshots {
		response.Snapshots = append(response.Snapshots, record.dto())
	}
	for _, record := range categories {
		response.Categories = append(response.Categories, record.dto())
	}
	return response, nil
}

// Push applies each record last-writer-wins against the stored copy in one
// transaction. Any invalid record rejects the whole push.
func (s *Service) Push(ctx context.Context, userID string, request syncapi.PushRequest) (PushResult, error) {
	if userID == "" {
		s.logError(opPush, "missing_user_id", errMissingUserID)
		return PushResult{}, newServiceError(opPush, "missing_user_id", errMissingUserID)
	}

	snapshots := make([]records.Version[records.Snapshot], 0, len(request.Snapshots))
	for _, dto := range request.Snapshots {
		version, err := dto.Version()
		if err != nil {
			return PushResult{}, newServiceError(opPush, "invalid_record", fmt.Errorf("%w: %v", ErrInvalidRecord, err))
		}
		snapshots = append(snapshots, version)
	}
	categories := make([]records.Version[records.Category], 0, len(request.Categories))
	for _, dto := range request.Categories {
		version, err := dto.Version()
		if err != nil {
			return PushResult{}, newServiceError(opPush, "invalid_record", fmt.Errorf("%w: %v", ErrInvalidRecord, err))
		}
		categories = append(categories, version)
	}

	result := PushResult{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		receivedAt := s.clock().UTC().UnixMilli()
		result.ServerTime = receivedAt

		for _, change := range categories {
			var existing CategoryRecord
			var existingPtr *CategoryRecord
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND category_id = ?", userID, change.Ref().ID.String()).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				s.logError(opPush, "category_select_failed", err, zap.String("user_id", userID))
				return newServiceError(opPush, "category_select_failed", err)
			} else {
				existingPtr = &existing
			}

			outcome := resolveCategory(existingPtr, userID, change, receivedAt)
			if !outcome.Accepted {
				result.Ignored++
				continue
			}
			if err := tx.Save(&outcome.Stored).Error; err != nil {
				s.logError(opPush, "category_save_failed", err, zap.String("user_id", userID))
				return newServiceError(opPush, "category_save_failed", err)
			}
			if err := s.audit(tx, userID, outcome.AuditRecord); err != nil {
				return err
			}
			result.Accepted++
		}

		for _, change := range snapshots {
			key := change.Ref().Key()
			var existing SnapshotRecord
			var existingPtr *SnapshotRecord
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND date = ? AND category_id = ?", userID, key.Date.String(), key.CategoryID.String()).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				s.logError(opPush, "snapshot_select_failed", err, zap.String("user_id", userID))
				return newServiceError(opPush, "snapshot_select_failed", err)
			} else {
				existingPtr = &existing
			}

			outcome := resolveSnapshot(existingPtr, userID, change, receivedAt)
			if !outcome.Accepted {
				result.Ignored++
				continue
			}
			if err := tx.Save(&outcome.Stored).Error; err != nil {
				s.logError(opPush, "snapshot_save_failed", err, zap.String("user_id", userID))
				return newServiceError(opPush, "snapshot_save_failed", err)
			}
			if err := s.audit(tx, userID, outcome.AuditRecord); err != nil {
				return err
			}
			result.Accepted++
		}
		return nil
	})
	if txErr != nil {
		return PushResult{}, txErr
	}

	s.logger.Debug("push applied",
		zap.String("user_id", userID),
		zap.Int("accepted", result.Accepted),
		zap.Int("ignored", result.Ignored))
	return result, nil
}

// Changes returns the audit trail of the account, newest first.
func (s *Service) Changes(ctx context.Context, userID string, limit int) ([]ChangeRecord, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("applied_at_ms DESC").Order("change_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var changes []ChangeRecord
	if err := query.Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Service) audit(tx *gorm.DB, userID string, record *ChangeRecord) error {
	if record == nil {
		return nil
	}
	changeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPush, "id_generation_failed", err, zap.String("user_id", userID))
		return newServiceError(opPush, "id_generation_failed", err)
	}
	record.ChangeID = changeID
	record.UserID = userID
	if err := tx.Create(record).Error; err != nil {
		s.logError(opPush, "audit_insert_failed", err, zap.String("user_id", userID))
		return newServiceError(opPush, "audit_insert_failed", err)
	}
	return nil
}

func (record SnapshotRecord) dto() syncapi.SnapshotDTO {
	return syncapi.SnapshotDTO{
		Date:       record.Date,
		CategoryID: record.CategoryID,
		Amount:     record.Amount,
		Memo:       record.Memo,
		UpdatedAt:  record.UpdatedAtMs,
		Deleted:    record.IsDeleted,
	}
}

func (record CategoryRecord) dto() syncapi.CategoryDTO {
	return syncapi.CategoryDTO{
		ID:        record.CategoryID,
		Name:      record.Name,
		Icon:      record.Icon,
		SortOrder: record.SortOrder,
		IsDefault: record.IsDefault,
		UpdatedAt: record.UpdatedAtMs,
		Deleted:   record.IsDeleted,
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("cloud service error", attrs...)
}
