package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/sequence"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/session"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncer"
)

type scriptedRunner struct {
	mu       sync.Mutex
	sequence *sequence.Sequencer
	errs     []error
	release  chan struct{}
	inflight *sequence.Future[syncer.Report]
	cycles   int
	joins    int
}

func newScriptedRunner(t *testing.T, errs ...error) *scriptedRunner {
	t.Helper()
	sequencer := sequence.New(sequence.Config{})
	t.Cleanup(sequencer.Close)
	return &scriptedRunner{sequence: sequencer, errs: errs}
}

func (r *scriptedRunner) Join(ctx context.Context) (*sequence.Future[syncer.Report], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight != nil {
		select {
		case <-r.inflight.Done():
		default:
			r.joins++
			return r.inflight, true
		}
	}
	r.cycles++
	var err error
	if len(r.errs) > 0 {
		err, r.errs = r.errs[0], r.errs[1:]
	}
	release := r.release
	future := sequence.Submit(ctx, r.sequence, "cycle", func(jobCtx context.Context) (syncer.Report, error) {
		if release != nil {
			select {
			case <-release:
			case <-jobCtx.Done():
				return syncer.Report{}, jobCtx.Err()
			}
		}
		return syncer.Report{}, err
	})
	r.inflight = future
	return future, false
}

func (r *scriptedRunner) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles, r.joins
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestScheduler(t *testing.T, runner Runner, cfg Config) *Scheduler {
	t.Helper()
	cfg.Runner = runner
	scheduler, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	return scheduler
}

func rejected() error {
	return &syncer.Error{Kind: syncer.KindServerRejected, Phase: syncer.PhasePushing, Err: &syncapi.RemoteError{Status: 400, Code: syncapi.CodeInvalidRecord}}
}

func TestOutcomes(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Outcome
	}{
		{name: "success", err: nil, expected: OutcomeSuccess},
		{name: "network", err: &syncer.Error{Kind: syncer.KindNetwork, Err: errors.New("reset")}, expected: OutcomeRetry},
		{name: "timeout", err: &syncer.Error{Kind: syncer.KindTimeout, Err: context.DeadlineExceeded}, expected: OutcomeRetry},
		{name: "merge", err: &syncer.Error{Kind: syncer.KindMerge}, expected: OutcomeRetry},
		{name: "session expired", err: &syncer.Error{Kind: syncer.KindSessionExpired, Err: session.ErrSessionExpired}, expected: OutcomeGiveUp},
		{name: "no session", err: &syncer.Error{Kind: syncer.KindNoSession, Err: session.ErrNotLoggedIn}, expected: OutcomeGiveUp},
		{name: "local store", err: &syncer.Error{Kind: syncer.KindLocalStore}, expected: OutcomeGiveUp},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			scheduler := newTestScheduler(t, newScriptedRunner(t, testCase.err), Config{})
			result := scheduler.TriggerNow(context.Background())
			if result.Outcome != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, result.Outcome)
			}
			if !errors.Is(result.Err, testCase.err) {
				t.Fatalf("expected cycle error to be reported, got %v", result.Err)
			}
		})
	}
}

func TestConsecutiveRejectionsGiveUp(t *testing.T) {
	runner := newScriptedRunner(t, rejected(), rejected(), rejected(), rejected(), nil, rejected())
	scheduler := newTestScheduler(t, runner, Config{MaxRejections: 3})
	expected := []Outcome{OutcomeRetry, OutcomeRetry, OutcomeGiveUp, OutcomeRetry, OutcomeSuccess, OutcomeRetry}
	for index, want := range expected {
		if got := scheduler.TriggerNow(context.Background()).Outcome; got != want {
			t.Fatalf("cycle %d: expected %s, got %s", index, want, got)
		}
	}
}

func TestTriggersCoalesceWithInFlightCycle(t *testing.T) {
	runner := newScriptedRunner(t)
	runner.release = make(chan struct{})
	scheduler := newTestScheduler(t, runner, Config{})

	results := make(chan Result, 2)
	go func() { results <- scheduler.TriggerNow(context.Background()) }()
	waitFor(t, func() bool { cycles, _ := runner.counts(); return cycles == 1 })
	go func() { results <- scheduler.TriggerNow(context.Background()) }()
	waitFor(t, func() bool { _, joins := runner.counts(); return joins == 1 })
	close(runner.release)

	first, second := <-results, <-results
	if first.Outcome != OutcomeSuccess || second.Outcome != OutcomeSuccess {
		t.Fatalf("expected both triggers to succeed, got %s and %s", first.Outcome, second.Outcome)
	}
	if first.Joined == second.Joined {
		t.Fatalf("expected exactly one trigger to join")
	}
	if cycles, _ := runner.counts(); cycles != 1 {
		t.Fatalf("expected a single cycle, got %d", cycles)
	}
}

func TestBudgetExceededIsRetriedTimeout(t *testing.T) {
	runner := newScriptedRunner(t)
	runner.release = make(chan struct{})
	defer close(runner.release)
	scheduler := newTestScheduler(t, runner, Config{Budget: 20 * time.Millisecond})

	result := scheduler.TriggerNow(context.Background())
	if syncer.KindOf(result.Err) != syncer.KindTimeout || result.Outcome != OutcomeRetry {
		t.Fatalf("expected timeout retry, got %s %v", result.Outcome, result.Err)
	}
}

func TestJoinedTriggerKeepsItsOwnBudget(t *testing.T) {
	runner := newScriptedRunner(t)
	runner.release = make(chan struct{})
	owner := newTestScheduler(t, runner, Config{Budget: time.Minute})
	joiner := newTestScheduler(t, runner, Config{Budget: 20 * time.Millisecond})

	ownerResult := make(chan Result, 1)
	go func() { ownerResult <- owner.TriggerNow(context.Background()) }()
	waitFor(t, func() bool { cycles, _ := runner.counts(); return cycles == 1 })

	result := joiner.TriggerNow(context.Background())
	if !result.Joined {
		t.Fatalf("expected the second trigger to join the running cycle")
	}
	if syncer.KindOf(result.Err) != syncer.KindTimeout || result.Outcome != OutcomeRetry {
		t.Fatalf("expected timeout retry for the joined trigger, got %s %v", result.Outcome, result.Err)
	}

	close(runner.release)
	if first := <-ownerResult; first.Outcome != OutcomeSuccess || first.Joined {
		t.Fatalf("expected the running cycle to finish, got %s %v", first.Outcome, first.Err)
	}
}

func TestRunRetriesThenFollowsInterval(t *testing.T) {
	network := &syncer.Error{Kind: syncer.KindNetwork, Err: errors.New("offline")}
	runner := newScriptedRunner(t, network, network)
	scheduler := newTestScheduler(t, runner, Config{Interval: time.Hour, RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	waitFor(t, func() bool { cycles, _ := runner.counts(); return cycles == 3 })
	time.Sleep(20 * time.Millisecond)
	if cycles, _ := runner.counts(); cycles != 3 {
		t.Fatalf("expected no cycle before the next interval after success, got %d", cycles)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffIsCappedAtInterval(t *testing.T) {
	scheduler := newTestScheduler(t, newScriptedRunner(t), Config{Interval: time.Minute, RetryDelay: 10 * time.Second})
	expected := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, time.Minute, time.Minute}
	for index, want := range expected {
		if got := scheduler.backoff(index + 1); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", index+1, want, got)
		}
	}
}
