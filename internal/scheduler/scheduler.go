// Package scheduler triggers sync cycles periodically and on demand, bounds
// each cycle with a time budget and decides whether a failed cycle is retried.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/sequence"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncer"
	"go.uber.org/zap"
)

const (
	defaultInterval      = 15 * time.Minute
	defaultBudget        = 2 * time.Minute
	defaultRetryDelay    = 30 * time.Second
	defaultMaxRejections = 3
)

var errMissingRunner = errors.New("scheduler: runner is required")

// Runner starts a full cycle or joins the one already in flight.
type Runner interface {
	Join(ctx context.Context) (*sequence.Future[syncer.Report], bool)
}

// Outcome is what the scheduler does after a cycle.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetry
	OutcomeGiveUp
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	default:
		return "give-up"
	}
}

// Result is one triggered cycle as seen by the scheduler.
type Result struct {
	Outcome Outcome
	Report  syncer.Report
	Err     error
	Joined  bool
}

// Config describes the dependencies of a Scheduler.
type Config struct {
	Runner        Runner
	Interval      time.Duration
	Budget        time.Duration
	RetryDelay    time.Duration
	MaxRejections int
	Logger        *zap.Logger
}

// Scheduler owns the trigger policy. Cycles themselves never overlap
// because triggers join the in-flight cycle.
type Scheduler struct {
	runner        Runner
	interval      time.Duration
	budget        time.Duration
	retryDelay    time.Duration
	maxRejections int
	logger        *zap.Logger

	mu         sync.Mutex
	rejections int
}

// New validates the configuration and applies defaults.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	scheduler := &Scheduler{
		runner:        cfg.Runner,
		interval:      cfg.Interval,
		budget:        cfg.Budget,
		retryDelay:    cfg.RetryDelay,
		maxRejections: cfg.MaxRejections,
		logger:        cfg.Logger,
	}
	if scheduler.interval <= 0 {
		scheduler.interval = defaultInterval
	}
	if scheduler.budget <= 0 {
		scheduler.budget = defaultBudget
	}
	if scheduler.retryDelay <= 0 {
		scheduler.retryDelay = defaultRetryDelay
	}
	if scheduler.maxRejections <= 0 {
		scheduler.maxRejections = defaultMaxRejections
	}
	if scheduler.logger == nil {
		scheduler.logger = zap.NewNop()
	}
	return scheduler, nil
}

// TriggerNow runs a cycle within the budget and waits for it. A trigger
// arriving while a cycle is in flight waits for that cycle instead of
// starting another, still bounded by its own budget.
func (s *Scheduler) TriggerNow(ctx context.Context) Result {
	budgetCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	future, joined := s.runner.Join(budgetCtx)
	report, err := future.Wait(budgetCtx)
	result := Result{Outcome: s.judge(err), Report: report, Err: err, Joined: joined}

	fields := []zap.Field{
		zap.String("outcome", result.Outcome.String()),
		zap.Bool("joined", joined),
	}
	if err != nil {
		fields = append(fields, zap.String("kind", syncer.KindOf(err).String()), zap.Error(err))
		s.logger.Warn("scheduled sync did not complete", fields...)
	} else {
		s.logger.Debug("scheduled sync completed", fields...)
	}
	return result
}

// Run triggers a cycle immediately and then every interval until ctx is
// done. A retry outcome schedules an earlier attempt with exponential
// backoff capped at the interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	attempt := 0
	var retry *time.Timer
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		result := s.TriggerNow(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retry != nil {
			retry.Stop()
			retry = nil
		}
		var retryC <-chan time.Time
		if result.Outcome == OutcomeRetry {
			attempt++
			retry = time.NewTimer(s.backoff(attempt))
			retryC = retry.C
		} else {
			attempt = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-retryC:
		}
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := s.retryDelay
	for i := 1; i < attempt && delay < s.interval; i++ {
		delay *= 2
	}
	if delay > s.interval {
		delay = s.interval
	}
	return delay
}

// judge maps a cycle error to an outcome. Server rejections are retried
// until maxRejections consecutive ones; session failures are never retried.
func (s *Scheduler) judge(err error) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := syncer.KindOf(err)
	if kind != syncer.KindServerRejected {
		s.rejections = 0
	}
	switch {
	case err == nil:
		return OutcomeSuccess
	case kind == syncer.KindServerRejected:
		s.rejections++
		if s.rejections >= s.maxRejections {
			s.rejections = 0
			return OutcomeGiveUp
		}
		return OutcomeRetry
	case kind.Retryable():
		return OutcomeRetry
	default:
		return OutcomeGiveUp
	}
}
