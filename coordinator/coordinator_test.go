package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/coordinator"
	"github.com/Anonyfox/meteor-synced-cron/executor"
	"github.com/Anonyfox/meteor-synced-cron/history"
	"github.com/Anonyfox/meteor-synced-cron/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingJob(calls *int) executor.Job {
	return func(context.Context, time.Time, string) (any, error) {
		*calls++
		return "done", nil
	}
}

func TestRunFiringPersistsOutcome(t *testing.T) {
	s := memory.New()
	c := coordinator.New(s, coordinator.WithLogger(discardLogger()))

	calls := 0
	intendedAt := time.Date(2025, 1, 15, 10, 0, 0, 500e6, time.UTC)

	err := c.RunFiring(context.Background(), coordinator.Firing{
		Name:    "report",
		Job:     countingJob(&calls),
		Persist: true,
	}, intendedAt)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("job ran %d times, want 1", calls)
	}

	rows, err := s.ListRecent(context.Background(), "report", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("records = %d, want 1", len(rows))
	}

	rec := rows[0]
	if rec.IntendedAt.Nanosecond() != 0 {
		t.Errorf("lease key kept sub-second precision: %v", rec.IntendedAt)
	}
	if !rec.Finished() {
		t.Error("record was not finished")
	}
	if rec.Result != "done" {
		t.Errorf("Result = %v, want %q", rec.Result, "done")
	}
	if rec.Error != "" {
		t.Errorf("Error = %q, want empty", rec.Error)
	}
}

func TestRunFiringSkipsOnDuplicate(t *testing.T) {
	s := memory.New()
	c := coordinator.New(s, coordinator.WithLogger(discardLogger()))
	ctx := context.Background()
	intendedAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	calls := 0
	firing := coordinator.Firing{Name: "contended", Job: countingJob(&calls), Persist: true}

	// First firing wins the lease and runs; the second is skipped
	// silently, as if it lost to another instance.
	if err := c.RunFiring(ctx, firing, intendedAt); err != nil {
		t.Fatal(err)
	}
	if err := c.RunFiring(ctx, firing, intendedAt); err != nil {
		t.Fatalf("duplicate firing should not error: %v", err)
	}

	if calls != 1 {
		t.Errorf("job ran %d times, want 1", calls)
	}
	if s.Len() != 1 {
		t.Errorf("records = %d, want 1", s.Len())
	}
}

func TestRunFiringContention(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	intendedAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	calls := 0
	job := func(context.Context, time.Time, string) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, nil
	}

	// Ten "instances" race the same firing against a shared store.
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := coordinator.New(s, coordinator.WithLogger(discardLogger()))
			_ = c.RunFiring(ctx, coordinator.Firing{Name: "shared", Job: job, Persist: true}, intendedAt)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("job ran %d times across instances, want exactly 1", calls)
	}
}

func TestRunFiringRecordsError(t *testing.T) {
	s := memory.New()
	c := coordinator.New(s, coordinator.WithLogger(discardLogger()))
	ctx := context.Background()
	intendedAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	boom := errors.New("boom")
	var gotErr error
	var gotAt time.Time

	err := c.RunFiring(ctx, coordinator.Firing{
		Name:    "failing",
		Job:     func(context.Context, time.Time, string) (any, error) { return nil, boom },
		Persist: true,
		OnError: func(err error, at time.Time) {
			gotErr = err
			gotAt = at
		},
	}, intendedAt)
	if err != nil {
		t.Fatalf("job failure must not surface as a coordinator error: %v", err)
	}

	if !errors.Is(gotErr, boom) {
		t.Errorf("OnError err = %v, want boom", gotErr)
	}
	if !gotAt.Equal(intendedAt) {
		t.Errorf("OnError intendedAt = %v, want %v", gotAt, intendedAt)
	}

	rows, _ := s.ListRecent(ctx, "failing", 1)
	if len(rows) != 1 {
		t.Fatalf("records = %d, want 1", len(rows))
	}
	if rows[0].Error == "" {
		t.Error("record is missing the error text")
	}
	if !rows[0].Finished() {
		t.Error("failed firing should still be marked finished")
	}
}

func TestRunFiringPanickingOnError(t *testing.T) {
	s := memory.New()
	c := coordinator.New(s, coordinator.WithLogger(discardLogger()))

	err := c.RunFiring(context.Background(), coordinator.Firing{
		Name:    "cb-panics",
		Job:     func(context.Context, time.Time, string) (any, error) { return nil, errors.New("x") },
		Persist: true,
		OnError: func(error, time.Time) { panic("callback bug") },
	}, time.Now())
	if err != nil {
		t.Fatalf("panicking OnError must be contained: %v", err)
	}
}

func TestRunFiringWithoutPersist(t *testing.T) {
	s := memory.New()
	c := coordinator.New(s, coordinator.WithLogger(discardLogger()))
	ctx := context.Background()
	intendedAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	calls := 0
	firing := coordinator.Firing{Name: "ephemeral", Job: countingJob(&calls), Persist: false}

	// Every instance runs it, nothing is recorded.
	for range 3 {
		if err := c.RunFiring(ctx, firing, intendedAt); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 3 {
		t.Errorf("job ran %d times, want 3", calls)
	}
	if s.Len() != 0 {
		t.Errorf("records = %d, want 0", s.Len())
	}
}

func TestRunFiringStoreFailure(t *testing.T) {
	c := coordinator.New(failingStore{}, coordinator.WithLogger(discardLogger()))

	calls := 0
	err := c.RunFiring(context.Background(), coordinator.Firing{
		Name:    "job",
		Job:     countingJob(&calls),
		Persist: true,
	}, time.Now())

	if err == nil {
		t.Fatal("store failure on insert must surface")
	}
	if calls != 0 {
		t.Errorf("job ran %d times despite lease failure, want 0", calls)
	}
}

func TestRunFiringMiddlewareRecoversPanic(t *testing.T) {
	s := memory.New()
	c := coordinator.New(s,
		coordinator.WithLogger(discardLogger()),
		coordinator.WithMiddleware(executor.Recover(discardLogger())),
	)
	ctx := context.Background()

	var gotErr error
	err := c.RunFiring(ctx, coordinator.Firing{
		Name:    "panicky",
		Job:     func(context.Context, time.Time, string) (any, error) { panic("kaboom") },
		Persist: true,
		OnError: func(err error, _ time.Time) { gotErr = err },
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if gotErr == nil {
		t.Error("panic was not converted to a job error")
	}

	rows, _ := s.ListRecent(ctx, "panicky", 1)
	if len(rows) != 1 || rows[0].Error == "" {
		t.Error("panic outcome was not recorded")
	}
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) InsertRecord(context.Context, *history.Record) error {
	return errors.New("store down")
}
func (failingStore) UpdateRecord(context.Context, *history.Record) error {
	return errors.New("store down")
}
func (failingStore) ListRecent(context.Context, string, int) ([]*history.Record, error) {
	return nil, errors.New("store down")
}
func (failingStore) EnsureIndexes(context.Context, string, int) error { return errors.New("store down") }
func (failingStore) Ping(context.Context) error               { return errors.New("store down") }
func (failingStore) Close() error                             { return nil }
