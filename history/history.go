// Package history defines the persisted record of job firings and the
// store contract every backend implements. The record store is the
// coordination primitive between instances: inserting a record keyed by
// (name, intended_at) under a uniqueness constraint is how an instance
// wins the right to run a firing.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/id"
)

var (
	// ErrDuplicateFiring reports an insert that lost the uniqueness race
	// on (name, intended_at): another instance already holds the lease.
	ErrDuplicateFiring = errors.New("history: firing already recorded for this instant")

	// ErrRecordNotFound reports an update against an id that is not in
	// the store (typically expired by TTL mid-flight).
	ErrRecordNotFound = errors.New("history: record not found")
)

// Record is one firing of one job on one instance.
type Record struct {
	ID         id.RecordID
	Name       string
	IntendedAt time.Time // seconds precision, the lease key together with Name
	StartedAt  time.Time
	FinishedAt *time.Time
	Result     any
	Error      string
}

// Finished reports whether the firing has completed (either way).
func (r *Record) Finished() bool { return r.FinishedAt != nil }

// Store is the record-store contract. Implementations must enforce a
// uniqueness constraint on (Name, IntendedAt) and expire records a
// configurable time after StartedAt when TTL is enabled.
type Store interface {
	// InsertRecord atomically inserts a new firing record. It returns
	// ErrDuplicateFiring when a record with the same (Name, IntendedAt)
	// already exists.
	InsertRecord(ctx context.Context, rec *Record) error

	// UpdateRecord overwrites the outcome fields (FinishedAt, Result,
	// Error) of the record identified by rec.ID.
	UpdateRecord(ctx context.Context, rec *Record) error

	// ListRecent returns up to limit records for the named job, newest
	// StartedAt first.
	ListRecent(ctx context.Context, name string, limit int) ([]*Record, error)

	// EnsureIndexes binds the store to the named collection (or table
	// or key namespace; backends whose namespace is fixed at migration
	// time may ignore an empty or matching name) and creates the
	// uniqueness and TTL indexes. ttl is the retention after StartedAt
	// in seconds; zero disables expiry.
	EnsureIndexes(ctx context.Context, collection string, ttl int) error

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
