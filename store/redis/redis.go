// Package redis implements history.Store on Redis. The lease is a
// SetNX key per (name, intended_at), record bodies are JSON strings
// under the lease key, and a per-job Sorted Set scored by started_at
// serves the newest-first history listing. TTL expiry uses per-key
// EXPIRE instead of a TTL index.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Anonyfox/meteor-synced-cron/history"
	"github.com/Anonyfox/meteor-synced-cron/id"
)

var _ history.Store = (*Store)(nil)

// DefaultNamespace prefixes every key until EnsureIndexes supplies a
// collection name.
const DefaultNamespace = "syncedcron"

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements history.Store backed by Redis. The caller owns the
// Redis client lifecycle.
type Store struct {
	client    goredis.Cmdable
	logger    *slog.Logger
	namespace string
	ttl       time.Duration
}

// New creates a Redis-backed history store.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    slog.Default(),
		namespace: DefaultNamespace,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// recordKey is the lease and body key: {namespace}:record:{name}:{unix}
func (s *Store) recordKey(name string, intendedAt time.Time) string {
	return fmt.Sprintf("%s:record:%s:%d", s.namespace, name, intendedAt.Unix())
}

// idKey maps a record id to its lease key: {namespace}:id:{rid}
func (s *Store) idKey(rid string) string { return s.namespace + ":id:" + rid }

// historyKey is the per-job Sorted Set of lease keys scored by
// started_at: {namespace}:history:{name}
func (s *Store) historyKey(name string) string { return s.namespace + ":history:" + name }

type recordModel struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	IntendedAt time.Time  `json:"intendedAt"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func marshalRecord(rec *history.Record) (string, error) {
	data, err := json.Marshal(recordModel{
		ID:         rec.ID.String(),
		Name:       rec.Name,
		IntendedAt: rec.IntendedAt.UTC(),
		StartedAt:  rec.StartedAt.UTC(),
		FinishedAt: rec.FinishedAt,
		Result:     rec.Result,
		Error:      rec.Error,
	})
	if err != nil {
		return "", fmt.Errorf("syncedcron/redis: marshal record: %w", err)
	}
	return string(data), nil
}

func unmarshalRecord(data string) (*history.Record, error) {
	var m recordModel
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("syncedcron/redis: unmarshal record: %w", err)
	}
	rid, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("syncedcron/redis: bad record id %q: %w", m.ID, err)
	}
	return &history.Record{
		ID:         rid,
		Name:       m.Name,
		IntendedAt: m.IntendedAt,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Result:     m.Result,
		Error:      m.Error,
	}, nil
}

// InsertRecord implements history.Store. SetNX on the lease key is the
// atomic uniqueness check.
func (s *Store) InsertRecord(ctx context.Context, rec *history.Record) error {
	body, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	key := s.recordKey(rec.Name, rec.IntendedAt)
	ok, err := s.client.SetNX(ctx, key, body, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("syncedcron/redis: insert record: %w", err)
	}
	if !ok {
		return history.ErrDuplicateFiring
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.idKey(rec.ID.String()), key, s.ttl)
	pipe.ZAdd(ctx, s.historyKey(rec.Name), goredis.Z{
		Score:  float64(rec.StartedAt.UnixMilli()),
		Member: key,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.historyKey(rec.Name), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("syncedcron/redis: index record: %w", err)
	}
	return nil
}

// UpdateRecord implements history.Store. The body is rewritten in place
// while preserving the remaining TTL on the key.
func (s *Store) UpdateRecord(ctx context.Context, rec *history.Record) error {
	key, err := s.client.Get(ctx, s.idKey(rec.ID.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return history.ErrRecordNotFound
		}
		return fmt.Errorf("syncedcron/redis: resolve record id: %w", err)
	}

	body, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, body, goredis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("syncedcron/redis: update record: %w", err)
	}
	return nil
}

// ListRecent implements history.Store.
func (s *Store) ListRecent(ctx context.Context, name string, limit int) ([]*history.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	keys, err := s.client.ZRevRange(ctx, s.historyKey(name), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("syncedcron/redis: list records: %w", err)
	}

	out := make([]*history.Record, 0, len(keys))
	for _, key := range keys {
		body, err := s.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				// Lease key expired; drop the stale index entry.
				s.client.ZRem(ctx, s.historyKey(name), key)
				continue
			}
			return nil, fmt.Errorf("syncedcron/redis: load record: %w", err)
		}
		rec, err := unmarshalRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// EnsureIndexes implements history.Store. Redis has no index builds; a
// non-empty collection name becomes the key namespace, and the TTL is
// recorded and applied per key on insert.
func (s *Store) EnsureIndexes(_ context.Context, collection string, ttl int) error {
	if collection != "" {
		s.namespace = collection
	}
	s.ttl = time.Duration(ttl) * time.Second
	return nil
}

// Ping implements history.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error { return nil }
