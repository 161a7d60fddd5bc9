// Package scheduler runs a worker's periodic automation tasks from a single
// polling loop. At most one task body executes at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often due-times are checked. It is not a task
// cadence.
const DefaultPollInterval = 300 * time.Millisecond

// Task is one periodic job. Interval is re-read every time the next due-time
// is computed, so it may return a live configuration value.
type Task struct {
	Name     string
	Interval func() time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler fires Tasks in priority order (slice order) when due.
//
// Thread-safe: Tick, Reschedule and Stop may be called from any goroutine.
type Scheduler struct {
	tasks  []Task
	logger *slog.Logger

	mu      sync.Mutex
	next    []time.Time
	active  bool
	running bool
	idle    *sync.Cond

	// ready gates every tick. A false result defers all work to a later poll.
	ready func() bool

	// nowFunc returns the current time. Defaults to time.Now; tests override.
	nowFunc func() time.Time

	poll   time.Duration
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithReady sets the readiness gate (e.g. "session authenticated").
func WithReady(ready func() bool) Option {
	return func(s *Scheduler) { s.ready = ready }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.nowFunc = now }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.poll = d }
}

// WithLogger sets the logger task failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler for tasks. It does nothing until Start.
func New(tasks []Task, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:   tasks,
		next:    make([]time.Time, len(tasks)),
		ready:   func() bool { return true },
		nowFunc: time.Now,
		poll:    DefaultPollInterval,
		logger:  slog.Default(),
	}
	s.idle = sync.NewCond(&s.mu)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start activates the scheduler, sets every task due one interval from now
// and launches the poll loop. The loop exits on Stop or context
// cancellation. Calling Start on an active scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	intervals := s.intervals()

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.resetLocked(intervals)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.loop(ctx, stopCh, doneCh)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every due task once, sequentially, in priority order. It returns
// immediately when the scheduler is inactive, not ready, or already running
// a task. Each task's next due-time is its completion time plus its interval,
// whether or not it failed.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	if !s.active || s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.idle.Broadcast()
		s.mu.Unlock()
	}()

	if !s.ready() {
		return
	}

	for i, task := range s.tasks {
		s.mu.Lock()
		due := s.active && !s.nowFunc().Before(s.next[i])
		s.mu.Unlock()
		if !due {
			continue
		}

		if err := s.runTask(ctx, task); err != nil {
			s.logger.Warn("task failed",
				"module", "scheduler", "event", task.Name, "result", "error", "error", err)
		}

		interval := task.Interval()
		s.mu.Lock()
		s.next[i] = s.nowFunc().Add(interval)
		s.mu.Unlock()
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// Reschedule recomputes every due-time from now using the current intervals.
// Elapsed waiting time is discarded, so a shortened interval applies at once.
func (s *Scheduler) Reschedule() {
	intervals := s.intervals()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.resetLocked(intervals)
	}
}

// intervals reads every task interval. It is called without s.mu held since
// Interval may take the caller's own locks.
func (s *Scheduler) intervals() []time.Duration {
	out := make([]time.Duration, len(s.tasks))
	for i, task := range s.tasks {
		out[i] = task.Interval()
	}
	return out
}

func (s *Scheduler) resetLocked(intervals []time.Duration) {
	now := s.nowFunc()
	for i := range s.tasks {
		s.next[i] = now.Add(intervals[i])
	}
}

// NextDue returns the next due-time of the named task.
func (s *Scheduler) NextDue(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range s.tasks {
		if task.Name == name {
			return s.next[i], true
		}
	}
	return time.Time{}, false
}

// Active reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop deactivates the scheduler, ends the poll loop and blocks until any
// in-flight task returns. The in-flight task is not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	doneCh := s.doneCh
	for s.running {
		s.idle.Wait()
	}
	s.mu.Unlock()

	<-doneCh
}
