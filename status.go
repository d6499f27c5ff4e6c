package syncedcron

import (
	"context"
	"fmt"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/history"
	"github.com/Anonyfox/meteor-synced-cron/schedule"
)

// statusHistoryLimit bounds how many history rows feed a job's stats.
const statusHistoryLimit = 100

// JobStats aggregates the most recent executions of a job.
type JobStats struct {
	TotalRuns       int
	SuccessCount    int
	ErrorCount      int
	AverageDuration time.Duration
}

// JobStatus is a point-in-time snapshot of one registered job.
type JobStatus struct {
	Name        string
	IsScheduled bool
	IsPaused    bool
	NextRunAt   *time.Time
	LastRun     *history.Record
	Stats       JobStats
}

// Health is the result of a HealthCheck. Healthy is false when any
// issue was detected.
type Health struct {
	Healthy bool
	Issues  []string
}

// Metrics summarizes the scheduler without touching the record store.
type Metrics struct {
	IsRunning         bool
	JobCount          int
	ScheduledJobCount int
	PausedJobCount    int
	RunningJobCount   int
}

// NextScheduledAt computes the job's next firing instant from the
// current clock. The second return is false for unknown names and for
// schedules with no future instant.
func (s *Scheduler) NextScheduledAt(name string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	utc := s.config.UTC
	s.mu.Unlock()

	if !ok {
		return time.Time{}, false
	}
	next, err := schedule.NextAfter(e.schedule, time.Now(), utc)
	if err != nil {
		return time.Time{}, false
	}
	return next, true
}

// JobStatus reads up to the most recent hundred history rows for the
// job and synthesizes a snapshot. Jobs registered WithoutPersistence
// have no history; their stats are zero.
func (s *Scheduler) JobStatus(ctx context.Context, name string) (*JobStatus, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return nil, ErrJobNotFound
	}
	st := &JobStatus{
		Name:        name,
		IsScheduled: e.handle != nil,
		IsPaused:    e.paused,
	}
	sched := e.schedule
	utc := s.config.UTC
	s.mu.Unlock()

	if next, err := schedule.NextAfter(sched, time.Now(), utc); err == nil {
		st.NextRunAt = &next
	}

	rows, err := s.store.ListRecent(ctx, name, statusHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("syncedcron: loading history for %s: %w", name, err)
	}
	if len(rows) > 0 {
		st.LastRun = rows[0]
	}
	st.Stats = computeStats(rows)
	return st, nil
}

// AllJobStatuses returns a snapshot for every registered job.
func (s *Scheduler) AllJobStatuses(ctx context.Context) ([]*JobStatus, error) {
	statuses := make([]*JobStatus, 0, len(s.JobNames()))
	for _, name := range s.JobNames() {
		st, err := s.JobStatus(ctx, name)
		if err != nil {
			if err == ErrJobNotFound {
				continue
			}
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// computeStats folds finished records into counters. Unfinished rows
// count toward TotalRuns but not toward success, error, or duration.
func computeStats(rows []*history.Record) JobStats {
	stats := JobStats{TotalRuns: len(rows)}

	var total time.Duration
	var timed int
	for _, rec := range rows {
		if !rec.Finished() {
			continue
		}
		if rec.Error != "" {
			stats.ErrorCount++
		} else {
			stats.SuccessCount++
		}
		total += rec.FinishedAt.Sub(rec.StartedAt)
		timed++
	}
	if timed > 0 {
		stats.AverageDuration = total / time.Duration(timed)
	}
	return stats
}

// HealthCheck inspects in-memory state only; it never blocks on the
// record store. A running scheduler with a non-paused job that lost
// its timer (circuit breaker) is unhealthy, as is any registered
// schedule with no future instant.
func (s *Scheduler) HealthCheck() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := Health{Healthy: true}
	now := time.Now()
	for name, e := range s.entries {
		if s.running && !e.paused && e.handle == nil {
			h.Issues = append(h.Issues, fmt.Sprintf("job %q is not armed", name))
		}
		if _, err := schedule.NextAfter(e.schedule, now, s.config.UTC); err != nil {
			h.Issues = append(h.Issues, fmt.Sprintf("job %q has no future run: %v", name, err))
		}
	}
	h.Healthy = len(h.Issues) == 0
	return h
}

// Metrics counts jobs by state. RunningJobCount is the number of
// executions currently in flight on this instance.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		IsRunning:       s.running,
		JobCount:        len(s.entries),
		RunningJobCount: s.inflight,
	}
	for _, e := range s.entries {
		if e.paused {
			m.PausedJobCount++
		}
		if e.handle != nil {
			m.ScheduledJobCount++
		}
	}
	return m
}
