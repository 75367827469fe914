// Package aggregate reconstructs point-in-time totals from sparse snapshot history.
//
// A category's amount on a day is the amount of its latest live snapshot on or
// before that day. Categories without such a snapshot contribute nothing.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"go.uber.org/zap"
)

const maxSeriesDays = 3660

var (
	// ErrInvalidRange indicates a series request whose start is after its end or that spans too many days.
	ErrInvalidRange = errors.New("aggregate: invalid date range")
	// ErrMissingStore indicates that the engine was constructed without a snapshot reader.
	ErrMissingStore = errors.New("aggregate: snapshot reader is required")
)

// SnapshotReader is the slice of the record store the engine queries.
type SnapshotReader interface {
	ClosestPrior(ctx context.Context, categoryID records.CategoryID, target records.Date) (records.Snapshot, bool, error)
	LatestPerCategory(ctx context.Context, target records.Date) ([]records.Snapshot, error)
	ListUpTo(ctx context.Context, target records.Date) ([]records.Snapshot, error)
}

// CategoryReader lists categories for ordering breakdown rows.
type CategoryReader interface {
	ListAll(ctx context.Context) ([]records.Category, error)
}

// EngineConfig describes the dependencies of an Engine.
type EngineConfig struct {
	Snapshots  SnapshotReader
	Categories CategoryReader
	Logger     *zap.Logger
}

// Engine answers aggregation queries. It reads without regard to sync state
// except that tombstones are never counted.
type Engine struct {
	snapshots  SnapshotReader
	categories CategoryReader
	logger     *zap.Logger
}

// NewEngine validates the configuration and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Snapshots == nil {
		return nil, ErrMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{snapshots: cfg.Snapshots, categories: cfg.Categories, logger: logger}, nil
}

// BreakdownRow is one category's contribution to a total.
type BreakdownRow struct {
	Category records.Category
	Known    bool
	Snapshot records.Snapshot
}

// Point is one day of a forward-filled series.
type Point struct {
	Date  records.Date
	Total int64
}

// ClosestPrior returns the category's latest live snapshot dated on or before target.
func (e *Engine) ClosestPrior(ctx context.Context, categoryID records.CategoryID, target records.Date) (records.Snapshot, bool, error) {
	if _, err := records.NewDate(target.String()); err != nil {
		return records.Snapshot{}, false, err
	}
	return e.snapshots.ClosestPrior(ctx, categoryID, target)
}

// TotalAt sums the closest-prior amount of every category that has one.
func (e *Engine) TotalAt(ctx context.Context, target records.Date) (int64, error) {
	if _, err := records.NewDate(target.String()); err != nil {
		return 0, err
	}
	latest, err := e.snapshots.LatestPerCategory(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("aggregate: total at %s: %w", target, err)
	}
	var total int64
	for _, snapshot := range latest {
		total += snapshot.Amount
	}
	return total, nil
}

// BreakdownAt returns the closest-prior snapshot per category, ordered by the
// category's sort order then id. Snapshots whose category is unknown locally
// come last, ordered by id.
func (e *Engine) BreakdownAt(ctx context.Context, target records.Date) ([]BreakdownRow, error) {
	if _, err := records.NewDate(target.String()); err != nil {
		return nil, err
	}
	latest, err := e.snapshots.LatestPerCategory(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("aggregate: breakdown at %s: %w", target, err)
	}
	known := map[records.CategoryID]records.Category{}
	if e.categories != nil {
		categories, err := e.categories.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("aggregate: breakdown categories: %w", err)
		}
		for _, category := range categories {
			known[category.ID] = category
		}
	}

	rows := make([]BreakdownRow, 0, len(latest))
	for _, snapshot := range latest {
		category, ok := known[snapshot.CategoryID]
		if !ok {
			category = records.Category{ID: snapshot.CategoryID}
			e.logger.Debug("snapshot references unknown category",
				zap.String("category_id", snapshot.CategoryID.String()))
		}
		rows = append(rows, BreakdownRow{Category: category, Known: ok, Snapshot: snapshot})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		left, right := rows[i], rows[j]
		if left.Known != right.Known {
			return left.Known
		}
		if left.Category.SortOrder != right.Category.SortOrder {
			return left.Category.SortOrder < right.Category.SortOrder
		}
		return left.Category.ID < right.Category.ID
	})
	return rows, nil
}

// Series returns the total for every day in [from, to], forward-filling each
// category from its latest prior snapshot.
func (e *Engine) Series(ctx context.Context, from, to records.Date) ([]Point, error) {
	if _, err := records.NewDate(from.String()); err != nil {
		return nil, err
	}
	if _, err := records.NewDate(to.String()); err != nil {
		return nil, err
	}
	if from > to {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	days := int(to.Time().Sub(from.Time()).Hours()/24) + 1
	if days > maxSeriesDays {
		return nil, fmt.Errorf("%w: %d days exceeds %d", ErrInvalidRange, days, maxSeriesDays)
	}
	history, err := e.snapshots.ListUpTo(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate: series %s..%s: %w", from, to, err)
	}
	return SeriesFromSnapshots(history, from, to), nil
}

// TotalFromSnapshots computes TotalAt over an in-memory history. It is the
// reference the indexed query must agree with.
func TotalFromSnapshots(history []records.Snapshot, target records.Date) int64 {
	latest := map[records.CategoryID]records.Snapshot{}
	for _, snapshot := range history {
		if snapshot.State == records.StatePendingDelete || snapshot.Date > target {
			continue
		}
		current, ok := latest[snapshot.CategoryID]
		if !ok || snapshot.Date > current.Date {
			latest[snapshot.CategoryID] = snapshot
		}
	}
	var total int64
	for _, snapshot := range latest {
		total += snapshot.Amount
	}
	return total
}

// SeriesFromSnapshots computes a forward-filled daily series in one sweep
// over history. history need not be sorted.
func SeriesFromSnapshots(history []records.Snapshot, from, to records.Date) []Point {
	live := make([]records.Snapshot, 0, len(history))
	for _, snapshot := range history {
		if snapshot.State != records.StatePendingDelete && snapshot.Date <= to {
			live = append(live, snapshot)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].Date != live[j].Date {
			return live[i].Date < live[j].Date
		}
		return live[i].CategoryID < live[j].CategoryID
	})

	current := map[records.CategoryID]int64{}
	var total int64
	next := 0
	points := make([]Point, 0)
	for day := from; day <= to; day = day.AddDays(1) {
		for next < len(live) && live[next].Date <= day {
			snapshot := live[next]
			total += snapshot.Amount - current[snapshot.CategoryID]
			current[snapshot.CategoryID] = snapshot.Amount
			next++
		}
		points = append(points, Point{Date: day, Total: total})
	}
	return points
}
