// Package scheduler implements the Clock & Scheduler component (C1): a set of
// named periodic jobs with overlap protection, grounded on the teacher's
// errgroup-based lifecycle in internal/bootstrap/app.go and generalized with
// robfig/cron's constant-delay schedule and skip-if-still-running job chain.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tommyca/spotengine/internal/core"
)

// Work is a job body that may fail. The error is logged; it never stops the
// schedule.
type Work func(ctx context.Context) error

type jobState struct {
	name      string
	entryID   cron.EntryID
	periodMs  int64
	work      Work
	running   int32 // atomic: 1 while an invocation is in flight
	paused    int32 // atomic: 1 while invocations are skipped without counting as overlap
	skipped   int64 // atomic: count of invocations skipped due to overlap
	lastErr   error
	lastRunAt time.Time
}

// Scheduler owns a table of named jobs on fixed periods. At most one
// invocation of a given job runs at a time; overlapping fires are skipped and
// counted, never queued.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*jobState
	logger  core.ILogger
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(logger core.ILogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[string]*jobState),
		logger: logger.WithField("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a named job firing every periodMs milliseconds. Registering a
// name that already exists replaces it (reschedule semantics).
func (s *Scheduler) Register(name string, periodMs int64, work Work) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, name)
	}

	js := &jobState{name: name, periodMs: periodMs, work: work}
	schedule := cron.ConstantDelaySchedule{Delay: time.Duration(periodMs) * time.Millisecond}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() { s.invoke(js) }))
	js.entryID = id
	s.jobs[name] = js

	s.logger.Info("scheduler: registered job", "name", name, "period_ms", periodMs)
	return nil
}

// Reschedule adjusts a job's cadence without re-entrancy: the old cron entry
// is removed and a new one added under the same name, without touching an
// in-flight invocation.
func (s *Scheduler) Reschedule(name string, newPeriodMs int64) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	work := js.work
	s.mu.Unlock()
	return s.Register(name, newPeriodMs, work)
}

func (s *Scheduler) invoke(js *jobState) {
	if atomic.LoadInt32(&js.paused) == 1 {
		return
	}
	if !atomic.CompareAndSwapInt32(&js.running, 0, 1) {
		atomic.AddInt64(&js.skipped, 1)
		s.logger.Debug("scheduler: skipped overlapping invocation", "name", js.name)
		return
	}
	defer atomic.StoreInt32(&js.running, 0)

	if s.ctx.Err() != nil {
		return
	}

	js.lastRunAt = time.Now()
	err := js.work(s.ctx)
	js.lastErr = err
	if err != nil {
		s.logger.Warn("scheduler: job returned error", "name", js.name, "error", err)
	}
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Pause suspends invocations of name without removing its cron entry; ticks
// that arrive while paused are silently dropped (not counted as overlap).
func (s *Scheduler) Pause(name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	atomic.StoreInt32(&js.paused, 1)
	return nil
}

// Resume re-enables invocations of name after Pause.
func (s *Scheduler) Resume(name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	atomic.StoreInt32(&js.paused, 0)
	return nil
}

// SkippedCount reports how many invocations of name were skipped due to
// overlap, for health/status reporting and tests.
func (s *Scheduler) SkippedCount(name string) int64 {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&js.skipped)
}

// Shutdown stops accepting new invocations and waits for in-flight ones to
// finish or deadline to expire, then gives up on the rest.
func (s *Scheduler) Shutdown(deadline time.Duration) {
	s.cancel()
	stopCtx := s.cron.Stop()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler: all jobs drained")
	case <-timer.C:
		s.logger.Warn("scheduler: shutdown deadline exceeded, abandoning in-flight jobs")
	}
}
