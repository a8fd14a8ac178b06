// Package cronsched owns the mapping from job name to (cron spec,
// next-fire time) and drives the Executor at each cron instant, as
// described in spec.md §4.6. It is grounded on the teacher's
// scheduler.go dispatchLoop/execute pair, generalized from a single
// polling ticker over BoltDB rows to an explicit in-memory armed-timer
// table: each job gets its own time.Timer, rearmed after every fire,
// rather than a shared poll loop scanning every job every tick.
// robfig/cron/v3's cron.ParseStandard supplies real five-field parsing
// (minute hour dom month dow, *, lists, ranges, */N, Sunday=0) exactly as
// the teacher already uses it for its own reschedule path.
package cronsched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tablecron/tablecron/internal/logger"
	"github.com/tablecron/tablecron/internal/metrics"
	"github.com/tablecron/tablecron/internal/store"
)

// Handler runs one job by name. The Scheduler guarantees at most one
// Handler invocation per job name is in flight at a time (max_instances=1).
type Handler func(ctx context.Context, jobName string)

type entry struct {
	schedule cron.Schedule
	timer    *time.Timer
	running  bool
	removed  bool
}

// Scheduler maintains armed timers for every registered job and coalesces
// fires that land while the previous run is still executing.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry

	handler Handler
	log     logger.Logger
	metrics *metrics.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a Scheduler. handler is invoked on its own goroutine per fire.
func New(handler Handler, log logger.Logger, mt *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		entries: make(map[string]*entry),
		handler: handler,
		log:     log,
		metrics: mt,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start sets the Scheduler's started flag, for symmetry with Stop. Nothing
// else reads the flag: timers armed by Register fire whether or not Start
// has been called, and LoadAll does not require it.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

// Register parses cronExpr, inserts an armed timer, replacing any prior
// entry with the same name.
func (s *Scheduler) Register(name, cronExpr string) error {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{schedule: schedule}
	if existing, ok := s.entries[name]; ok {
		existing.removed = true
		existing.timer.Stop()
		// A run started by the replaced entry is still in flight for this
		// name; the new entry coalesces against it until it completes.
		e.running = existing.running
	}
	s.entries[name] = e
	s.arm(name, e, time.Now())
	if s.metrics != nil {
		s.metrics.JobsScheduled.Inc()
	}
	return nil
}

// Unregister removes name's timer, if present. Idempotent.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return
	}
	e.removed = true
	e.timer.Stop()
	delete(s.entries, name)
}

// LoadAll registers every job currently in st, for use at boot.
func (s *Scheduler) LoadAll(st *store.Store) error {
	jobs, err := st.List()
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.Register(job.Name, job.Schedule); err != nil {
			s.log.Errorf("load_all: skipping %s: %v", job.Name, err)
		}
	}
	return nil
}

// arm must be called with s.mu held. It schedules e's timer to fire at the
// next instant strictly after now that matches e.schedule.
func (s *Scheduler) arm(name string, e *entry, after time.Time) {
	next := e.schedule.Next(after)
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { s.fire(name) })
}

// fire runs when a job's timer elapses. The timer for the next instant is
// rearmed immediately, from the fire instant, independent of whether this
// fire's handler ever runs. A job that overruns its own interval still
// gets a real intermediate timer fire to coalesce, instead of the next
// fire being pushed out to the previous run's completion time. A fire
// landing while the previous run is still in flight is coalesced (dropped,
// not queued).
func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.removed {
		s.mu.Unlock()
		return
	}
	s.arm(name, e, time.Now())
	if e.running {
		if s.metrics != nil {
			s.metrics.FiresCoalesced.Inc()
		}
		s.mu.Unlock()
		return
	}
	e.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handler(s.ctx, name)

		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.entries[name]; ok {
			e.running = false
		}
	}()
}

// Stop ceases scheduling new runs and waits up to timeout for in-flight
// runs to complete. Runs still active at timeout are abandoned; their
// partial work is not committed because the Executor only calls
// touch_last_run after its own successful completion.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	for _, e := range s.entries {
		e.removed = true
		e.timer.Stop()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.cancel()
	}
}
