// Package scheduler drives periodic evaluation ticks.
//
// A Scheduler runs one job per tick, synchronously, so ticks never overlap.
// A gate predicate decides whether a tick is admitted; refused ticks do
// nothing. Ticks keep a fixed-rate cadence anchored to the previous tick,
// which survives Stop/Start cycles.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrRunning is returned by Start when the scheduler is already running.
var ErrRunning = errors.New("scheduler: already running")

// Gate reports whether a tick at t is admitted.
type Gate func(t time.Time) bool

// Always admits every tick.
func Always(time.Time) bool { return true }

// Job is the work performed on an admitted tick. The context it receives is
// not cancelled by Stop, so a started batch always runs to completion.
type Job func(ctx context.Context, now time.Time)

// Scheduler runs Job at a fixed interval.
type Scheduler struct {
	interval time.Duration
	job      Job
	clock    clockwork.Clock
	observe  func(now time.Time, admitted bool)

	mu     sync.Mutex
	gate   Gate
	cancel context.CancelFunc
	done   chan struct{}
	last   time.Time // scheduled time of the most recent tick
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects the clock; tests pass a clockwork fake.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithGate sets the initial gate. The default admits every tick.
func WithGate(g Gate) Option {
	return func(s *Scheduler) { s.gate = g }
}

// WithObserver registers a callback invoked for every tick, admitted or not.
func WithObserver(fn func(now time.Time, admitted bool)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// New creates a stopped Scheduler. interval must be positive.
func New(interval time.Duration, job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval: interval,
		job:      job,
		clock:    clockwork.NewRealClock(),
		gate:     Always,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetGate replaces the gate; it takes effect from the next tick.
func (s *Scheduler) SetGate(g Gate) {
	if g == nil {
		g = Always
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = g
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// LastTick returns the scheduled time of the most recent tick, zero if none.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start launches the tick loop. The loop ends when ctx is cancelled or Stop
// is called. If the scheduler ticked before, the cadence resumes from the
// last tick instead of restarting the interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done, s.nextDelayLocked(s.clock.Now()))
	return nil
}

// Stop halts the timer and waits for an in-flight job to finish.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, delay time.Duration) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.done, s.cancel = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	timer := s.clock.NewTimer(delay)
	defer timer.Stop()

	jobCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.Chan():
			if ctx.Err() != nil {
				return
			}
			s.tick(jobCtx, now)

			s.mu.Lock()
			next := s.nextDelayLocked(s.clock.Now())
			s.mu.Unlock()
			timer.Reset(next)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	s.last = now
	gate := s.gate
	s.mu.Unlock()

	admitted := gate(now)
	if s.observe != nil {
		s.observe(now, admitted)
	}
	if !admitted {
		slog.Debug("scheduler: tick outside operating window, skipped", "at", now)
		return
	}
	s.job(ctx, now)
}

// nextDelayLocked returns the wait until the next slot on the grid anchored at
// the last tick. Slots missed by an overrunning job are skipped, not replayed.
func (s *Scheduler) nextDelayLocked(now time.Time) time.Duration {
	if s.last.IsZero() {
		return s.interval
	}
	elapsed := now.Sub(s.last)
	if elapsed < 0 {
		return s.interval
	}
	return s.interval - elapsed%s.interval
}
