package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/history"
	"github.com/Anonyfox/meteor-synced-cron/id"
	"github.com/Anonyfox/meteor-synced-cron/store/memory"
)

func newRecord(name string, intendedAt time.Time) *history.Record {
	return &history.Record{
		ID:         id.NewRecordID(),
		Name:       name,
		IntendedAt: intendedAt,
		StartedAt:  time.Now().UTC(),
	}
}

func TestInsertEnforcesUniqueness(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	if err := s.InsertRecord(ctx, newRecord("job", at)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertRecord(ctx, newRecord("job", at))
	if !errors.Is(err, history.ErrDuplicateFiring) {
		t.Errorf("second insert err = %v, want ErrDuplicateFiring", err)
	}

	// Different instant or different name both succeed.
	if err := s.InsertRecord(ctx, newRecord("job", at.Add(time.Minute))); err != nil {
		t.Errorf("insert at other instant: %v", err)
	}
	if err := s.InsertRecord(ctx, newRecord("other", at)); err != nil {
		t.Errorf("insert under other name: %v", err)
	}
}

func TestInsertRaceHasOneWinner(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	const instances = 10
	var wg sync.WaitGroup
	wins := make(chan struct{}, instances)

	for range instances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.InsertRecord(ctx, newRecord("contended", at)); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1", won)
	}
}

func TestUpdateRecord(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	rec := newRecord("job", time.Now().Truncate(time.Second))
	if err := s.InsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	finished := time.Now().UTC()
	rec.FinishedAt = &finished
	rec.Result = "done"
	if err := s.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}

	rows, err := s.ListRecent(ctx, "job", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if !rows[0].Finished() || rows[0].Result != "done" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	s := memory.New()

	rec := newRecord("job", time.Now())
	err := s.UpdateRecord(context.Background(), rec)
	if !errors.Is(err, history.ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestListRecentNewestFirstWithLimit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		if err := s.InsertRecord(ctx, newRecord("job", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.ListRecent(ctx, "job", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].IntendedAt.After(rows[i-1].IntendedAt) {
			t.Errorf("rows not newest-first: %v before %v", rows[i-1].IntendedAt, rows[i].IntendedAt)
		}
	}
	if !rows[0].IntendedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("newest = %v", rows[0].IntendedAt)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return now })

	if err := s.EnsureIndexes(ctx, "", 300); err != nil {
		t.Fatal(err)
	}

	rec := newRecord("job", now)
	rec.StartedAt = now
	if err := s.InsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	// Advance past the TTL: the record vanishes and the lease frees up.
	now = now.Add(301 * time.Second)
	if s.Len() != 0 {
		t.Fatalf("Len after TTL = %d, want 0", s.Len())
	}
	rec2 := newRecord("job", rec.IntendedAt)
	rec2.StartedAt = now
	if err := s.InsertRecord(ctx, rec2); err != nil {
		t.Errorf("insert after expiry: %v", err)
	}
}

func TestInsertCopiesRecord(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	rec := newRecord("job", time.Now())
	if err := s.InsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Error = "mutated after insert"

	rows, _ := s.ListRecent(ctx, "job", 1)
	if rows[0].Error != "" {
		t.Error("store returned a record aliasing the caller's value")
	}
}

func TestPingAndClose(t *testing.T) {
	s := memory.New()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func ExampleStore() {
	s := memory.New()
	ctx := context.Background()

	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	_ = s.InsertRecord(ctx, &history.Record{ID: id.NewRecordID(), Name: "sync", IntendedAt: at, StartedAt: at})
	err := s.InsertRecord(ctx, &history.Record{ID: id.NewRecordID(), Name: "sync", IntendedAt: at, StartedAt: at})

	fmt.Println(errors.Is(err, history.ErrDuplicateFiring))
	// Output: true
}
