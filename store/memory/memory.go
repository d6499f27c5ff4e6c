// Package memory provides an in-memory history.Store for tests and
// development. The uniqueness constraint and TTL expiry match the
// database backends; expiry is evaluated lazily on access.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/history"
)

var _ history.Store = (*Store)(nil)

// Store keeps firing records in process memory.
type Store struct {
	mu         sync.Mutex
	byKey      map[leaseKey]*history.Record
	byID       map[string]*history.Record
	collection string
	ttl        time.Duration
	nowFunc    func() time.Time
}

type leaseKey struct {
	name       string
	intendedAt int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		byKey:   make(map[leaseKey]*history.Record),
		byID:    make(map[string]*history.Record),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock used for TTL expiry. Tests use this to
// age records without sleeping.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = fn
}

func keyOf(rec *history.Record) leaseKey {
	return leaseKey{name: rec.Name, intendedAt: rec.IntendedAt.Unix()}
}

// expireLocked drops records older than the TTL. Callers hold s.mu.
func (s *Store) expireLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.nowFunc().Add(-s.ttl)
	for k, rec := range s.byKey {
		if rec.StartedAt.Before(cutoff) {
			delete(s.byKey, k)
			delete(s.byID, rec.ID.String())
		}
	}
}

// InsertRecord implements history.Store.
func (s *Store) InsertRecord(_ context.Context, rec *history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	k := keyOf(rec)
	if _, exists := s.byKey[k]; exists {
		return history.ErrDuplicateFiring
	}

	cp := *rec
	s.byKey[k] = &cp
	s.byID[rec.ID.String()] = &cp
	return nil
}

// UpdateRecord implements history.Store.
func (s *Store) UpdateRecord(_ context.Context, rec *history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	stored, ok := s.byID[rec.ID.String()]
	if !ok {
		return history.ErrRecordNotFound
	}
	stored.FinishedAt = rec.FinishedAt
	stored.Result = rec.Result
	stored.Error = rec.Error
	return nil
}

// ListRecent implements history.Store.
func (s *Store) ListRecent(_ context.Context, name string, limit int) ([]*history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	var out []*history.Record
	for _, rec := range s.byKey {
		if rec.Name == name {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].IntendedAt.After(out[j].IntendedAt)
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EnsureIndexes implements history.Store. The uniqueness constraint is
// structural here; the collection name and TTL are just recorded.
func (s *Store) EnsureIndexes(_ context.Context, collection string, ttl int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if collection != "" {
		s.collection = collection
	}
	s.ttl = time.Duration(ttl) * time.Second
	return nil
}

// Ping implements history.Store.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements history.Store.
func (s *Store) Close() error { return nil }

// Collection reports the name set by EnsureIndexes. Test helper.
func (s *Store) Collection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection
}

// TTL reports the retention set by EnsureIndexes, in seconds. Test
// helper.
func (s *Store) TTL() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.ttl / time.Second)
}

// Len reports the number of live records. Test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.byKey)
}
