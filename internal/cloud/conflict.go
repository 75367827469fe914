package cloud

import (
	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
)

// wins reports whether an incoming change replaces the stored copy: it does
// when nothing is stored or it is strictly newer. Ties keep the stored copy,
// the same rule the client applies when merging.
func wins(storedUpdatedAt *int64, incomingUpdatedAt int64) bool {
	return storedUpdatedAt == nil || incomingUpdatedAt > *storedUpdatedAt
}

func resolveSnapshot(existing *SnapshotRecord, userID string, change records.Version[records.Snapshot], receivedAt int64) ConflictOutcome[SnapshotRecord] {
	ref := change.Ref()
	stored := SnapshotRecord{
		UserID:     userID,
		Date:       ref.Date.String(),
		CategoryID: ref.CategoryID.String(),
	}
	var storedUpdatedAt *int64
	if existing != nil {
		stored = *existing
		storedUpdatedAt = &existing.UpdatedAtMs
	}
	if !wins(storedUpdatedAt, change.At()) {
		return ConflictOutcome[SnapshotRecord]{Accepted: false, Stored: stored}
	}

	updated := stored
	updated.UpdatedAtMs = change.At()
	updated.ReceivedAtMs = receivedAt
	operation := OperationUpsert
	if live, ok := change.Live(); ok {
		updated.IsDeleted = false
		updated.Amount = live.Amount
		updated.Memo = nil
		if live.Memo != "" {
			memo := live.Memo
			updated.Memo = &memo
		}
	} else {
		operation = OperationDelete
		updated.IsDeleted = true
		updated.Amount = 0
		updated.Memo = nil
	}
	updated.Version = nextVersion(stored.Version)

	return ConflictOutcome[SnapshotRecord]{
		Accepted:    true,
		Stored:      updated,
		AuditRecord: auditOf(KindSnapshot, updated.Date+"/"+updated.CategoryID, operation, change.At(), receivedAt, stored.Version, updated.Version),
	}
}

func resolveCategory(existing *CategoryRecord, userID string, change records.Version[records.Category], receivedAt int64) ConflictOutcome[CategoryRecord] {
	ref := change.Ref()
	stored := CategoryRecord{
		UserID:     userID,
		CategoryID: ref.ID.String(),
	}
	var storedUpdatedAt *int64
	if existing != nil {
		stored = *existing
		storedUpdatedAt = &existing.UpdatedAtMs
	}
	if !wins(storedUpdatedAt, change.At()) {
		return ConflictOutcome[CategoryRecord]{Accepted: false, Stored: stored}
	}

	updated := stored
	updated.UpdatedAtMs = change.At()
	updated.ReceivedAtMs = receivedAt
	operation := OperationUpsert
	if live, ok := change.Live(); ok {
		updated.IsDeleted = false
		updated.Name = live.Name
		updated.Icon = live.Icon
		updated.SortOrder = live.SortOrder
		updated.IsDefault = live.IsDefault
	} else {
		operation = OperationDelete
		updated.IsDeleted = true
	}
	updated.Version = nextVersion(stored.Version)

	return ConflictOutcome[CategoryRecord]{
		Accepted:    true,
		Stored:      updated,
		AuditRecord: auditOf(KindCategory, updated.CategoryID, operation, change.At(), receivedAt, stored.Version, updated.Version),
	}
}

func auditOf(kind RecordKind, key string, operation Operation, clientUpdatedAt, appliedAt, previous, next int64) *ChangeRecord {
	audit := &ChangeRecord{
		Kind:            kind,
		RecordKey:       key,
		Operation:       operation,
		AppliedAtMs:     appliedAt,
		ClientUpdatedAt: clientUpdatedAt,
		NewVersion:      next,
	}
	if previous > 0 {
		audit.PreviousVersion = pointerTo(previous)
	}
	return audit
}

func nextVersion(current int64) int64 {
	next := current + 1
	if next <= 0 {
		next = 1
	}
	return next
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
