// Package scheduler runs periodic maintenance jobs such as hold sweeps.
// Due times come from an injected clock so tests can drive ticks by hand.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/consult-slots/internal/clock"
	"github.com/wolfman30/consult-slots/internal/observability/metrics"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
	// LockTTL bounds the distributed lock; zero uses the scheduler default.
	LockTTL time.Duration
	// Local jobs act on in-process state and skip the distributed lock.
	Local bool
}

type jobState struct {
	job     Job
	next    time.Time
	running sync.Mutex
}

// Scheduler runs jobs when they come due. A job never overlaps itself in
// this process, and with a Locker configured, across processes.
type Scheduler struct {
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.ReservationMetrics
	locker  Locker
	tick    time.Duration
	lockTTL time.Duration

	mu   sync.Mutex
	jobs []*jobState
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTick sets how often Start checks for due jobs.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

func WithLockTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// New creates a scheduler. A nil clock uses the system clock.
func New(c clock.Clock, logger *logging.Logger, opts ...Option) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Scheduler{
		clock:   c,
		logger:  logger.WithComponent("scheduler"),
		tick:    time.Second,
		lockTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. Its first run is one schedule step from now.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Schedule == nil || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name, schedule and run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, js := range s.jobs {
		if js.job.Name == job.Name {
			return fmt.Errorf("scheduler: duplicate job %q", job.Name)
		}
	}
	s.jobs = append(s.jobs, &jobState{job: job, next: job.Schedule.Next(s.clock.Now())})
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for _, js := range s.jobs {
		names = append(names, js.job.Name)
	}
	return names
}

// NextRun reports when the named job is next due.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, js := range s.jobs {
		if js.job.Name == name {
			return js.next, true
		}
	}
	return time.Time{}, false
}

// RunDue runs every job that is due and waits for them. It returns the
// names of the jobs that actually ran.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*jobState
	for _, js := range s.jobs {
		if !js.next.After(now) {
			js.next = js.job.Schedule.Next(now)
			due = append(due, js)
		}
	}
	s.mu.Unlock()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ran []string
	)
	for _, js := range due {
		wg.Add(1)
		go func(js *jobState) {
			defer wg.Done()
			if s.runJob(ctx, js) {
				mu.Lock()
				ran = append(ran, js.job.Name)
				mu.Unlock()
			}
		}(js)
	}
	wg.Wait()
	return ran
}

// RunNow runs the named job immediately, regardless of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	var target *jobState
	for _, js := range s.jobs {
		if js.job.Name == name {
			target = js
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false, fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.runJob(ctx, target), nil
}

func (s *Scheduler) runJob(ctx context.Context, js *jobState) bool {
	name := js.job.Name
	if !js.running.TryLock() {
		s.logger.Debug("job still running, skipping", "job", name)
		s.metrics.ObserveJobRun(name, "skipped_running")
		return false
	}
	defer js.running.Unlock()

	if s.locker != nil && !js.job.Local {
		ttl := js.job.LockTTL
		if ttl <= 0 {
			ttl = s.lockTTL
		}
		release, ok, err := s.locker.Acquire(ctx, name, ttl)
		switch {
		case err != nil:
			// Sweeps are idempotent, so run locally rather than skip.
			s.logger.Warn("job lock unavailable, running without it", "job", name, "error", err)
		case !ok:
			s.logger.Debug("job locked by another instance", "job", name)
			s.metrics.ObserveJobRun(name, "skipped_locked")
			return false
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	start := s.clock.Now()
	if err := js.job.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
		s.metrics.ObserveJobRun(name, "error")
		return true
	}
	s.logger.Debug("job finished", "job", name, "elapsed", s.clock.Now().Sub(start))
	s.metrics.ObserveJobRun(name, "ok")
	return true
}

// Start checks for due jobs every tick until ctx is cancelled. A slow job
// does not delay the others; its next tick is skipped instead.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "jobs", count, "tick", s.tick)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			go s.RunDue(ctx)
		}
	}
}
