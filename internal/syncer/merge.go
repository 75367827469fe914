package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"go.uber.org/zap"
)

// MergeFailure is a remote record that could not be applied.
type MergeFailure struct {
	Key string
	Err error
}

type mergeOutcome int

const (
	outcomeApplied mergeOutcome = iota
	outcomeSkipped
	outcomeDeleted
)

// decide applies last-writer-wins between a remote version and the local
// copy: a remote tombstone always removes the local record, otherwise the
// remote copy wins when nothing is stored locally or it is strictly newer.
// Ties keep the local copy.
func decide[T any](remote records.Version[T], local *records.Version[T]) mergeOutcome {
	if remote.Deleted() {
		if local == nil {
			return outcomeSkipped
		}
		return outcomeDeleted
	}
	if local == nil || remote.At() > local.At() {
		return outcomeApplied
	}
	return outcomeSkipped
}

type merger struct {
	store  *records.Store
	logger *zap.Logger
	report *Report
}

func (m merger) apply(ctx context.Context, response syncapi.SyncResponse) error {
	m.report.Pulled += len(response.Categories) + len(response.Snapshots)
	for _, dto := range response.Categories {
		if err := m.category(ctx, dto); err != nil {
			return err
		}
	}
	for _, dto := range response.Snapshots {
		if err := m.snapshot(ctx, dto); err != nil {
			return err
		}
	}
	return nil
}

func (m merger) category(ctx context.Context, dto syncapi.CategoryDTO) error {
	remote, err := dto.Version()
	if err != nil {
		m.reject(fmt.Sprintf("category/%s", dto.ID), err)
		return nil
	}
	id := remote.Ref().ID
	var local *records.Version[records.Category]
	existing, err := m.store.Categories().Get(ctx, id)
	switch {
	case err == nil:
		version := existing.Lifecycle()
		local = &version
	case errors.Is(err, records.ErrNotFound):
	default:
		return err
	}

	switch decide(remote, local) {
	case outcomeDeleted:
		if err := m.store.Categories().Delete(ctx, id); err != nil {
			return err
		}
		m.report.Deleted++
	case outcomeApplied:
		category := remote.Ref()
		category.Stamp = records.Stamp{LastModified: remote.At(), State: records.StateSynced}
		if err := m.store.Categories().Put(ctx, category); err != nil {
			return err
		}
		m.resurrected(local != nil && local.Deleted(), fmt.Sprintf("category/%s", id))
		m.report.Applied++
	default:
		m.report.Skipped++
	}
	return nil
}

func (m merger) snapshot(ctx context.Context, dto syncapi.SnapshotDTO) error {
	remote, err := dto.Version()
	if err != nil {
		m.reject(fmt.Sprintf("snapshot/%s/%s", dto.Date, dto.CategoryID), err)
		return nil
	}
	key := remote.Ref().Key()
	var local *records.Version[records.Snapshot]
	existing, err := m.store.Snapshots().Get(ctx, key)
	switch {
	case err == nil:
		version := existing.Lifecycle()
		local = &version
	case errors.Is(err, records.ErrNotFound):
	default:
		return err
	}

	switch decide(remote, local) {
	case outcomeDeleted:
		if err := m.store.Snapshots().Delete(ctx, key); err != nil {
			return err
		}
		m.report.Deleted++
	case outcomeApplied:
		snapshot := remote.Ref()
		snapshot.Stamp = records.Stamp{LastModified: remote.At(), State: records.StateSynced}
		if err := m.store.Snapshots().Put(ctx, snapshot); err != nil {
			return err
		}
		m.resurrected(local != nil && local.Deleted(), fmt.Sprintf("snapshot/%s/%s", key.Date, key.CategoryID))
		m.report.Applied++
	default:
		m.report.Skipped++
	}
	return nil
}

func (m merger) reject(key string, err error) {
	m.logger.Warn("remote record rejected during merge", zap.String("record", key), zap.Error(err))
	m.report.MergeFailures = append(m.report.MergeFailures, MergeFailure{Key: key, Err: err})
}

func (m merger) resurrected(pendingDelete bool, key string) {
	if pendingDelete {
		m.logger.Warn("newer remote copy replaced a pending local deletion", zap.String("record", key))
	}
}
