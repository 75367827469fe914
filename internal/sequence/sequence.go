// Package sequence runs jobs one at a time on a single worker goroutine.
//
// Every local mutation and every sync cycle goes through one Sequencer, so
// jobs never interleave. Submitters get a Future and block only if they wait
// on it. A job must not wait on a Future of the Sequencer it runs on.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned for jobs submitted after Close.
var ErrClosed = errors.New("sequence: closed")

type task struct {
	ctx  context.Context
	name string
	run  func(context.Context)
	drop func(error)
}

// Config describes the dependencies of a Sequencer.
type Config struct {
	Logger *zap.Logger
}

// Sequencer owns the worker goroutine and its unbounded FIFO queue.
type Sequencer struct {
	mu     sync.Mutex
	queue  []task
	closed bool
	wake   chan struct{}
	done   chan struct{}
	logger *zap.Logger
}

// New starts the worker goroutine.
func New(cfg Config) *Sequencer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sequencer{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.loop()
	return s
}

// Submit queues job and returns its Future. The job receives ctx; if ctx is
// already done when the job reaches the head of the queue, the job is skipped
// and the Future resolves with ctx.Err().
func Submit[T any](ctx context.Context, s *Sequencer, name string, job func(context.Context) (T, error)) *Future[T] {
	future := newFuture[T]()
	queued := s.enqueue(task{
		ctx:  ctx,
		name: name,
		run: func(jobCtx context.Context) {
			value, err := job(jobCtx)
			future.resolve(value, err)
		},
		drop: func(err error) {
			var zero T
			future.resolve(zero, err)
		},
	})
	if !queued {
		var zero T
		future.resolve(zero, ErrClosed)
	}
	return future
}

// Do submits job and waits for its result.
func Do[T any](ctx context.Context, s *Sequencer, name string, job func(context.Context) (T, error)) (T, error) {
	return Submit(ctx, s, name, job).Wait(ctx)
}

// Exec submits a job without a result value and waits for it.
func Exec(ctx context.Context, s *Sequencer, name string, job func(context.Context) error) error {
	_, err := Do(ctx, s, name, func(jobCtx context.Context) (struct{}, error) {
		return struct{}{}, job(jobCtx)
	})
	return err
}

// Pending reports the number of queued jobs that have not started.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops accepting jobs, runs the ones already queued and waits for the
// worker to exit.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.signal()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sequencer) enqueue(t task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, t)
	s.signal()
	return true
}

func (s *Sequencer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sequencer) next() (task, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return task{}, false, s.closed
	}
	head := s.queue[0]
	s.queue[0] = task{}
	s.queue = s.queue[1:]
	return head, true, false
}

func (s *Sequencer) loop() {
	defer close(s.done)
	for {
		current, ok, closed := s.next()
		if !ok {
			if closed {
				return
			}
			<-s.wake
			continue
		}
		s.execute(current)
	}
}

func (s *Sequencer) execute(current task) {
	if err := current.ctx.Err(); err != nil {
		current.drop(err)
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("sequence: job %s panicked: %v", current.name, recovered)
			s.logger.Error("sequence job panicked", zap.String("job", current.name), zap.Any("panic", recovered))
			current.drop(err)
		}
	}()
	current.run(current.ctx)
}
