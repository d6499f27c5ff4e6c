// Package coordinator drives one firing end to end: acquire the lease
// by inserting a history record, execute the job, record the outcome,
// and route errors to the job's callback. Losing the lease race is the
// normal case on all instances but one.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/executor"
	"github.com/Anonyfox/meteor-synced-cron/history"
	"github.com/Anonyfox/meteor-synced-cron/id"
)

// Firing describes one scheduled execution handed to the coordinator.
type Firing struct {
	Name string

	// Job is the work to run. Timeouts are the job's own concern;
	// wrap with executor.WithTimeout to enforce one.
	Job executor.Job

	// Persist controls lease acquisition. When false the job runs
	// unconditionally on every instance and nothing is recorded.
	Persist bool

	// OnError is invoked after a failed execution. Optional.
	OnError func(err error, intendedAt time.Time)
}

// Coordinator runs firings against a shared record store.
type Coordinator struct {
	store      history.Store
	logger     *slog.Logger
	middleware []executor.Middleware
	nowFunc    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMiddleware sets the executor middleware applied to every firing.
func WithMiddleware(mws ...executor.Middleware) Option {
	return func(c *Coordinator) { c.middleware = mws }
}

// WithNowFunc overrides the clock. Tests use this to pin timestamps.
func WithNowFunc(fn func() time.Time) Option {
	return func(c *Coordinator) { c.nowFunc = fn }
}

// New creates a Coordinator on the given record store.
func New(store history.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		logger:  slog.Default(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunFiring executes one firing. intendedAt is truncated to seconds
// before use as the lease key. The returned error covers lease-store
// failures only; job failures are routed to the firing's OnError and
// reflected in the history record, not returned.
func (c *Coordinator) RunFiring(ctx context.Context, f Firing, intendedAt time.Time) error {
	intendedAt = intendedAt.Truncate(time.Second)

	var rec *history.Record
	if f.Persist {
		rec = &history.Record{
			ID:         id.NewRecordID(),
			Name:       f.Name,
			IntendedAt: intendedAt,
			StartedAt:  c.nowFunc().UTC(),
		}
		if err := c.store.InsertRecord(ctx, rec); err != nil {
			if errors.Is(err, history.ErrDuplicateFiring) {
				c.logger.Debug("skipping firing, already running on another instance",
					slog.String("job", f.Name),
					slog.Time("intended_at", intendedAt),
				)
				return nil
			}
			return fmt.Errorf("syncedcron/coordinator: acquire lease for %s: %w", f.Name, err)
		}
	}

	res := executor.Execute(ctx, f.Job, intendedAt, f.Name, executor.Options{
		Middleware: c.middleware,
	})

	if rec != nil {
		c.recordOutcome(ctx, rec, res)
	}

	if !res.Success {
		c.invokeOnError(f, res.Err, intendedAt)
	}
	return nil
}

// recordOutcome updates the lease record with the firing's result.
// Store errors here are logged and swallowed: the job already ran and
// the next firing must not be blocked by a failed bookkeeping write.
func (c *Coordinator) recordOutcome(ctx context.Context, rec *history.Record, res executor.ExecutionResult) {
	finished := c.nowFunc().UTC()
	rec.FinishedAt = &finished
	if res.Success {
		rec.Result = res.Result
	} else if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	if err := c.store.UpdateRecord(ctx, rec); err != nil {
		c.logger.Warn("failed to record firing outcome",
			slog.String("job", rec.Name),
			slog.Time("intended_at", rec.IntendedAt),
			slog.String("error", err.Error()),
		)
	}
}

// invokeOnError calls the job's error callback, catching anything it
// panics with so a broken callback cannot take down the loop.
func (c *Coordinator) invokeOnError(f Firing, jobErr error, intendedAt time.Time) {
	if f.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("onError callback panicked",
				slog.String("job", f.Name),
				slog.Any("panic", r),
			)
		}
	}()
	f.OnError(jobErr, intendedAt)
}
