package syncedcron

import (
	"log/slog"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/executor"
	"github.com/Anonyfox/meteor-synced-cron/history"
)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) error {
		s.config = cfg
		return nil
	}
}

// WithStore sets the shared record store. Defaults to the in-memory
// store, which coordinates nothing beyond the current process.
func WithStore(store history.Store) Option {
	return func(s *Scheduler) error {
		if store == nil {
			return ErrNoStore
		}
		s.store = store
		return nil
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = logger
		return nil
	}
}

// WithCollectionName overrides the history collection name.
func WithCollectionName(name string) Option {
	return func(s *Scheduler) error {
		s.config.CollectionName = name
		return nil
	}
}

// WithCollectionTTL overrides the history retention in seconds.
func WithCollectionTTL(seconds int) Option {
	return func(s *Scheduler) error {
		s.config.CollectionTTL = seconds
		return nil
	}
}

// WithUTC computes all schedules in UTC. Recommended for production;
// local-zone day boundaries shift across DST transitions.
func WithUTC() Option {
	return func(s *Scheduler) error {
		s.config.UTC = true
		return nil
	}
}

// ── per-job options ──────────────────────────────────────────

// JobOption configures a single job at Add time.
type JobOption func(*jobEntry)

// WithoutPersistence disables lease acquisition and history recording
// for this job: it runs on every instance at every firing.
func WithoutPersistence() JobOption {
	return func(e *jobEntry) { e.persist = false }
}

// WithOnError sets a callback invoked after each failed execution with
// the error and the firing's intended instant.
func WithOnError(fn func(err error, intendedAt time.Time)) JobOption {
	return func(e *jobEntry) { e.onError = fn }
}

// WithJobTimeout bounds each execution of this job. The job body is
// not forcibly interrupted on expiry; it may keep running in the
// background while the firing is recorded as timed out.
func WithJobTimeout(d time.Duration) JobOption {
	return func(e *jobEntry) {
		if d > 0 {
			e.job = executor.WithTimeout(e.job, d)
		}
	}
}
