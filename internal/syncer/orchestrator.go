// Package syncer runs sync cycles: pull remote changes since the profile's
// watermark, merge them last-writer-wins, push local changes, then finalize
// local sync state.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/sequence"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/session"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"go.uber.org/zap"
)

var (
	errMissingStore    = errors.New("syncer: record store is required")
	errMissingSequence = errors.New("syncer: sequence is required")
	errMissingGate     = errors.New("syncer: session gate is required")
	errMissingRemote   = errors.New("syncer: remote is required")
	errMergeFailures   = errors.New("syncer: remote records could not be applied")
)

// Phase is the step a cycle is in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePulling
	PhaseMerging
	PhasePushing
	PhaseFinalizing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePulling:
		return "pulling"
	case PhaseMerging:
		return "merging"
	case PhasePushing:
		return "pushing"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Mode selects which halves of a cycle run.
type Mode int

const (
	ModeFull Mode = iota
	ModePullOnly
	ModePushOnly
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePullOnly:
		return "pull"
	case ModePushOnly:
		return "push"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) pulls() bool { return m != ModePushOnly }

func (m Mode) pushes() bool { return m != ModePullOnly }

// Gate decides whether the active profile may talk to the service.
type Gate interface {
	LoggedIn(ctx context.Context) (bool, error)
	IsUsable(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) error
}

// Remote is the authenticated half of the sync service.
type Remote interface {
	Pull(ctx context.Context, request syncapi.PullRequest) (syncapi.SyncResponse, error)
	Push(ctx context.Context, request syncapi.PushRequest) (syncapi.SyncResponse, error)
}

// Config describes the dependencies of an Orchestrator.
type Config struct {
	Store    *records.Store
	Sequence *sequence.Sequencer
	Gate     Gate
	Remote   Remote
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Report describes one cycle. Phase is PhaseIdle when the cycle ran to
// completion and the failing phase otherwise.
type Report struct {
	Mode             Mode
	Phase            Phase
	ProfileID        string
	Pulled           int
	Applied          int
	Skipped          int
	Deleted          int
	PushedSnapshots  int
	PushedCategories int
	Synced           int64
	Purged           int64
	MergeFailures    []MergeFailure
	Watermark        *int64
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Orchestrator runs at most one cycle at a time on the local sequence.
type Orchestrator struct {
	store    *records.Store
	sequence *sequence.Sequencer
	gate     Gate
	remote   Remote
	clock    func() time.Time
	logger   *zap.Logger

	mu       sync.Mutex
	inflight *sequence.Future[Report]
}

// New validates the configuration and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Sequence == nil:
		return nil, errMissingSequence
	case cfg.Gate == nil:
		return nil, errMissingGate
	case cfg.Remote == nil:
		return nil, errMissingRemote
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    cfg.Store,
		sequence: cfg.Sequence,
		gate:     cfg.Gate,
		remote:   cfg.Remote,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Sync runs a full cycle and waits for it.
func (o *Orchestrator) Sync(ctx context.Context) (Report, error) {
	return o.SyncAsync(ctx, ModeFull).Wait(ctx)
}

// PullOnly fetches and merges remote changes without pushing.
func (o *Orchestrator) PullOnly(ctx context.Context) (Report, error) {
	return o.SyncAsync(ctx, ModePullOnly).Wait(ctx)
}

// PushOnly sends local changes without pulling.
func (o *Orchestrator) PushOnly(ctx context.Context) (Report, error) {
	return o.SyncAsync(ctx, ModePushOnly).Wait(ctx)
}

// SyncAsync queues a cycle and returns its Future. While another cycle is
// queued or running the Future resolves immediately with ErrAlreadyRunning.
func (o *Orchestrator) SyncAsync(ctx context.Context, mode Mode) *sequence.Future[Report] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current() != nil {
		return sequence.Resolved(Report{Mode: mode}, ErrAlreadyRunning)
	}
	return o.launch(ctx, mode)
}

// Join returns the in-flight cycle, or queues a full cycle when none is
// running. joined reports which of the two happened.
func (o *Orchestrator) Join(ctx context.Context) (future *sequence.Future[Report], joined bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if current := o.current(); current != nil {
		return current, true
	}
	return o.launch(ctx, ModeFull), false
}

// Running reports whether a cycle is queued or in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current() != nil
}

// PendingCount returns the number of local records waiting to be pushed.
func (o *Orchestrator) PendingCount(ctx context.Context) (int64, error) {
	return o.store.CountDirty(ctx)
}

// current returns the unresolved in-flight cycle. Callers hold mu.
func (o *Orchestrator) current() *sequence.Future[Report] {
	if o.inflight == nil {
		return nil
	}
	select {
	case <-o.inflight.Done():
		o.inflight = nil
		return nil
	default:
		return o.inflight
	}
}

// launch must be called with mu held.
func (o *Orchestrator) launch(ctx context.Context, mode Mode) *sequence.Future[Report] {
	o.inflight = sequence.Submit(ctx, o.sequence, "sync."+mode.String(), func(jobCtx context.Context) (Report, error) {
		return o.cycle(jobCtx, mode)
	})
	return o.inflight
}

func (o *Orchestrator) cycle(ctx context.Context, mode Mode) (Report, error) {
	report := Report{Mode: mode, StartedAt: o.clock()}

	profile, err := o.precondition(ctx)
	if err != nil {
		return o.fail(&report, err)
	}
	report.ProfileID = profile.ID

	var pulled syncapi.SyncResponse
	if mode.pulls() {
		report.Phase = PhasePulling
		pulled, err = o.remote.Pull(ctx, syncapi.PullRequest{LastSyncTime: profile.LastSyncTime})
		if err != nil {
			return o.fail(&report, failure(PhasePulling, err))
		}

		report.Phase = PhaseMerging
		err = o.store.Transaction(ctx, func(tx *records.Store) error {
			return merger{store: tx, logger: o.logger, report: &report}.apply(ctx, pulled)
		})
		if err != nil {
			return o.fail(&report, failure(PhaseMerging, err))
		}
	}

	if mode.pushes() {
		report.Phase = PhasePushing
		request, err := o.collect(ctx)
		if err != nil {
			return o.fail(&report, failure(PhasePushing, err))
		}
		if len(request.Snapshots)+len(request.Categories) > 0 {
			if _, err := o.remote.Push(ctx, request); err != nil {
				return o.fail(&report, failure(PhasePushing, err))
			}
			report.PushedSnapshots = len(request.Snapshots)
			report.PushedCategories = len(request.Categories)
		}

		report.Phase = PhaseFinalizing
		if err := o.finalize(ctx, profile, mode, pulled, &report); err != nil {
			return o.fail(&report, failure(PhaseFinalizing, err))
		}
	}

	if len(report.MergeFailures) > 0 {
		return o.fail(&report, &Error{
			Kind:  KindMerge,
			Phase: PhaseMerging,
			Err:   fmt.Errorf("%w: %d of %d", errMergeFailures, len(report.MergeFailures), report.Pulled),
		})
	}

	report.Phase = PhaseIdle
	report.FinishedAt = o.clock()
	o.logger.Info("sync cycle finished",
		zap.String("mode", mode.String()),
		zap.String("profile_id", profile.ID),
		zap.Int("pulled", report.Pulled),
		zap.Int("applied", report.Applied),
		zap.Int("deleted", report.Deleted),
		zap.Int("pushed_snapshots", report.PushedSnapshots),
		zap.Int("pushed_categories", report.PushedCategories),
		zap.Int64("purged", report.Purged))
	return report, nil
}

func (o *Orchestrator) precondition(ctx context.Context) (records.Profile, error) {
	profile, found, err := o.store.Profiles().Active(ctx)
	if err != nil {
		return records.Profile{}, failure(PhaseIdle, err)
	}
	if !found {
		return records.Profile{}, &Error{Kind: KindNoSession, Phase: PhaseIdle, Err: session.ErrNotLoggedIn}
	}
	loggedIn, err := o.gate.LoggedIn(ctx)
	if err != nil {
		return records.Profile{}, &Error{Kind: KindLocalStore, Phase: PhaseIdle, Err: err}
	}
	if !loggedIn {
		return records.Profile{}, &Error{Kind: KindNoSession, Phase: PhaseIdle, Err: session.ErrNotLoggedIn}
	}
	usable, err := o.gate.IsUsable(ctx)
	if err != nil {
		return records.Profile{}, &Error{Kind: KindLocalStore, Phase: PhaseIdle, Err: err}
	}
	if !usable {
		if err := o.gate.Refresh(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return records.Profile{}, &Error{Kind: classify(ctxErr), Phase: PhaseIdle, Err: err}
			}
			return records.Profile{}, &Error{Kind: KindSessionExpired, Phase: PhaseIdle, Err: err}
		}
	}
	return profile, nil
}

func (o *Orchestrator) collect(ctx context.Context) (syncapi.PushRequest, error) {
	snapshots, err := o.store.Snapshots().ListDirty(ctx)
	if err != nil {
		return syncapi.PushRequest{}, err
	}
	categories, err := o.store.Categories().ListDirty(ctx)
	if err != nil {
		return syncapi.PushRequest{}, err
	}
	request := syncapi.PushRequest{
		Snapshots:  make([]syncapi.SnapshotDTO, 0, len(snapshots)),
		Categories: make([]syncapi.CategoryDTO, 0, len(categories)),
	}
	for _, snapshot := range snapshots {
		request.Snapshots = append(request.Snapshots, syncapi.SnapshotFromVersion(snapshot.Lifecycle()))
	}
	for _, category := range categories {
		request.Categories = append(request.Categories, syncapi.CategoryFromVersion(category.Lifecycle()))
	}
	return request, nil
}

func (o *Orchestrator) finalize(ctx context.Context, profile records.Profile, mode Mode, pulled syncapi.SyncResponse, report *Report) error {
	advance := mode == ModeFull && len(report.MergeFailures) == 0 && pulled.ServerTime > 0
	return o.store.Transaction(ctx, func(tx *records.Store) error {
		synced, err := tx.Snapshots().MarkAllSynced(ctx)
		if err != nil {
			return err
		}
		report.Synced += synced
		if synced, err = tx.Categories().MarkAllSynced(ctx); err != nil {
			return err
		}
		report.Synced += synced
		purged, err := tx.Snapshots().PurgeTombstones(ctx)
		if err != nil {
			return err
		}
		report.Purged += purged
		if purged, err = tx.Categories().PurgeTombstones(ctx); err != nil {
			return err
		}
		report.Purged += purged
		if !advance {
			return nil
		}
		if err := tx.Profiles().UpdateLastSyncTime(ctx, profile.ID, pulled.ServerTime); err != nil {
			return err
		}
		watermark := pulled.ServerTime
		report.Watermark = &watermark
		return nil
	})
}

func (o *Orchestrator) fail(report *Report, err error) (Report, error) {
	report.FinishedAt = o.clock()
	var syncErr *Error
	if errors.As(err, &syncErr) {
		report.Phase = syncErr.Phase
	}
	o.logger.Warn("sync cycle failed",
		zap.String("mode", report.Mode.String()),
		zap.String("profile_id", report.ProfileID),
		zap.String("phase", report.Phase.String()),
		zap.String("kind", KindOf(err).String()),
		zap.Error(err))
	return *report, err
}
