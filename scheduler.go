package syncedcron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/coordinator"
	"github.com/Anonyfox/meteor-synced-cron/executor"
	"github.com/Anonyfox/meteor-synced-cron/history"
	"github.com/Anonyfox/meteor-synced-cron/id"
	"github.com/Anonyfox/meteor-synced-cron/schedule"
	"github.com/Anonyfox/meteor-synced-cron/store/memory"
	"github.com/Anonyfox/meteor-synced-cron/timer"
)

// jobEntry is the per-job state owned by the Scheduler.
type jobEntry struct {
	name     string
	schedule schedule.Schedule
	job      executor.Job
	persist  bool
	onError  func(err error, intendedAt time.Time)

	paused bool
	handle *timer.Handle
}

// Scheduler registers named jobs and fires each of them on exactly one
// of the cooperating instances sharing a record store.
type Scheduler struct {
	config Config
	logger *slog.Logger
	store  history.Store
	coord  *coordinator.Coordinator
	instID id.SchedulerID

	mu       sync.Mutex
	entries  map[string]*jobEntry
	running  bool
	inflight int
	idleCh   chan struct{}

	initOnce sync.Once
	initErr  error
}

// New creates a Scheduler. Without WithStore it coordinates against an
// in-memory store, which is only meaningful for a single process.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		config:  DefaultConfig(),
		logger:  slog.Default(),
		store:   memory.New(),
		instID:  id.NewSchedulerID(),
		entries: make(map[string]*jobEntry),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.coord = coordinator.New(s.store,
		coordinator.WithLogger(s.logger),
		coordinator.WithMiddleware(
			executor.Recover(s.logger),
			executor.Logging(s.logger),
		),
	)
	return s, nil
}

// ── registry operations ──────────────────────────────────────

// Add registers a job under a unique name. If the scheduler is running
// the job is armed immediately. Schedule validation happens here so a
// malformed cron expression surfaces to the caller, not the timer loop.
func (s *Scheduler) Add(name string, sched schedule.Schedule, job executor.Job, opts ...JobOption) error {
	if name == "" {
		return fmt.Errorf("syncedcron: job name must not be empty")
	}
	if err := schedule.Validate(sched); err != nil {
		return err
	}

	e := &jobEntry{
		name:     name,
		schedule: sched,
		job:      job,
		persist:  true,
	}
	for _, opt := range opts {
		opt(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return ErrJobAlreadyExists
	}
	s.entries[name] = e

	if s.running && !e.paused {
		s.armLocked(e)
	}
	s.logger.Debug("job added", slog.String("job", name))
	return nil
}

// Remove unregisters a job, cancelling its timer.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return ErrJobNotFound
	}
	s.disarmLocked(e)
	delete(s.entries, name)
	s.logger.Debug("job removed", slog.String("job", name))
	return nil
}

// PauseJob cancels the job's timer and marks it paused. The pause
// survives Pause/Start cycles of the whole scheduler.
func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return ErrJobNotFound
	}
	e.paused = true
	s.disarmLocked(e)
	return nil
}

// ResumeJob clears the paused flag and re-arms the job if the
// scheduler is running.
func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return ErrJobNotFound
	}
	e.paused = false
	if s.running && e.handle == nil {
		s.armLocked(e)
	}
	return nil
}

// IsJobPaused reports the paused flag; false for unknown names.
func (s *Scheduler) IsJobPaused(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	return ok && e.paused
}

// JobNames returns the registered job names.
func (s *Scheduler) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// ── lifecycle ────────────────────────────────────────────────

// Start initializes the record store (exactly once per scheduler) and
// arms every non-paused job. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.initStore(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	for _, e := range s.entries {
		if !e.paused && e.handle == nil {
			s.armLocked(e)
		}
	}
	s.logger.Info("scheduler started",
		slog.String("instance", s.instID.String()),
		slog.Int("jobs", len(s.entries)),
	)
	return nil
}

// initStore ensures indexes exactly once for this scheduler. A TTL
// below the minimum disables expiry rather than creating a hair-trigger
// index.
func (s *Scheduler) initStore(ctx context.Context) error {
	s.initOnce.Do(func() {
		ttl := s.config.CollectionTTL
		if ttl > 0 && ttl < MinCollectionTTL {
			s.logger.Warn("collection TTL below minimum, disabling expiry",
				slog.Int("ttl_seconds", ttl),
				slog.Int("minimum", MinCollectionTTL),
			)
			ttl = 0
		}
		s.initErr = s.store.EnsureIndexes(ctx, s.config.CollectionName, ttl)
	})
	return s.initErr
}

// Pause cancels all timers and transitions to idle. Entries and their
// per-job paused flags are kept.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	for _, e := range s.entries {
		s.disarmLocked(e)
	}
	s.logger.Info("scheduler paused", slog.String("instance", s.instID.String()))
}

// Stop pauses and discards all entries.
func (s *Scheduler) Stop() {
	s.Pause()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*jobEntry)
}

// GracefulShutdown pauses, then waits for in-flight executions up to
// the context's deadline (or indefinitely without one). Executions
// still running when the deadline passes keep running; their count is
// logged.
func (s *Scheduler) GracefulShutdown(ctx context.Context) error {
	s.Pause()

	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.idleCh == nil {
		s.idleCh = make(chan struct{})
	}
	idle := s.idleCh
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		remaining := s.inflight
		s.mu.Unlock()
		s.logger.Warn("graceful shutdown expired with executions in flight",
			slog.Int("remaining", remaining),
		)
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler is in the running state.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ── timer wiring ─────────────────────────────────────────────

// armLocked starts the job's timer loop. Callers hold s.mu.
func (s *Scheduler) armLocked(e *jobEntry) {
	next := func(now time.Time) (time.Time, error) {
		return schedule.NextAfter(e.schedule, now, s.config.UTC)
	}

	firing := coordinator.Firing{
		Name:    e.name,
		Job:     e.job,
		Persist: e.persist,
		OnError: e.onError,
	}

	exec := func(intendedAt time.Time) error {
		s.beginExecution()
		defer s.endExecution()
		return s.coord.RunFiring(context.Background(), firing, intendedAt)
	}

	name := e.name
	e.handle = timer.Recurring(next, exec,
		timer.WithLogger(s.logger),
		timer.WithOnError(func(err error) {
			s.logger.Warn("firing failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}),
		timer.WithOnCircuitBreak(func(err error) {
			s.logger.Error("job scheduling gave up",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			s.mu.Lock()
			if cur, ok := s.entries[name]; ok {
				cur.handle = nil
			}
			s.mu.Unlock()
		}),
	)
}

// disarmLocked cancels the job's timer if armed. Callers hold s.mu.
func (s *Scheduler) disarmLocked(e *jobEntry) {
	if e.handle != nil {
		e.handle.Cancel()
		e.handle = nil
	}
}

func (s *Scheduler) beginExecution() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

func (s *Scheduler) endExecution() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 && s.idleCh != nil {
		close(s.idleCh)
		s.idleCh = nil
	}
	s.mu.Unlock()
}
