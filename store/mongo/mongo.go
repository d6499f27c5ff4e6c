// Package mongo implements history.Store on a MongoDB collection. The
// unique index on (intendedAt, name) is the lease primitive; a TTL
// index on startedAt expires records, finished or not.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Anonyfox/meteor-synced-cron/history"
	"github.com/Anonyfox/meteor-synced-cron/id"
)

var _ history.Store = (*Store)(nil)

// DefaultCollection is the collection name used when none is given.
const DefaultCollection = "cronHistory"

// initializedCollections tracks which (database, collection) pairs have
// had their indexes created, so multiple schedulers in one process do
// not re-issue index builds against the same collection.
var (
	initMu                 sync.Mutex
	initializedCollections = map[string]bool{}
)

// Store is a MongoDB implementation of history.Store. The caller owns
// the *mongo.Client lifecycle; Store never disconnects it.
type Store struct {
	col    *mongod.Collection
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a MongoDB history store on db's collection. An empty
// collection name means DefaultCollection.
func New(db *mongod.Database, collection string, opts ...Option) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	s := &Store{
		col:    db.Collection(collection),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type recordModel struct {
	ID         string     `bson:"_id"`
	Name       string     `bson:"name"`
	IntendedAt time.Time  `bson:"intendedAt"`
	StartedAt  time.Time  `bson:"startedAt"`
	FinishedAt *time.Time `bson:"finishedAt,omitempty"`
	Result     any        `bson:"result,omitempty"`
	Error      string     `bson:"error,omitempty"`
}

func toModel(rec *history.Record) *recordModel {
	return &recordModel{
		ID:         rec.ID.String(),
		Name:       rec.Name,
		IntendedAt: rec.IntendedAt.UTC(),
		StartedAt:  rec.StartedAt.UTC(),
		FinishedAt: rec.FinishedAt,
		Result:     rec.Result,
		Error:      rec.Error,
	}
}

func fromModel(m *recordModel) (*history.Record, error) {
	rid, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("syncedcron/mongo: bad record id %q: %w", m.ID, err)
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

// InsertRecord implements history.Store.
func (s *Store) InsertRecord(ctx context.Context, rec *history.Record) error {
	_, err := s.col.InsertOne(ctx, toModel(rec))
	if err != nil {
		if isDuplicateKey(err) {
			return history.ErrDuplicateFiring
		}
		return fmt.Errorf("syncedcron/mongo: insert record: %w", err)
	}
	return nil
}

// UpdateRecord implements history.Store.
func (s *Store) UpdateRecord(ctx context.Context, rec *history.Record) error {
	update := bson.M{"$set": bson.M{
		"finishedAt": rec.FinishedAt,
		"result":     rec.Result,
		"error":      rec.Error,
	}}
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": rec.ID.String()}, update)
	if err != nil {
		return fmt.Errorf("syncedcron/mongo: update record: %w", err)
	}
	if res.MatchedCount == 0 {
		return history.ErrRecordNotFound
	}
	return nil
}

// ListRecent implements history.Store.
func (s *Store) ListRecent(ctx context.Context, name string, limit int) ([]*history.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := s.col.Find(ctx, bson.M{"name": name}, opts)
	if err != nil {
		return nil, fmt.Errorf("syncedcron/mongo: list records: %w", err)
	}
	defer cur.Close(ctx)

	var out []*history.Record
	for cur.Next(ctx) {
		var m recordModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("syncedcron/mongo: decode record: %w", err)
		}
		rec, err := fromModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("syncedcron/mongo: cursor: %w", err)
	}
	return out, nil
}

// EnsureIndexes implements history.Store. A non-empty collection name
// rebinds the store to that collection, so the scheduler's configured
// name wins over the one given at construction. Index builds run once
// per (database, collection) per process.
func (s *Store) EnsureIndexes(ctx context.Context, collection string, ttl int) error {
	if collection != "" && collection != s.col.Name() {
		s.col = s.col.Database().Collection(collection)
	}
	key := s.col.Database().Name() + "/" + s.col.Name()

	initMu.Lock()
	defer initMu.Unlock()
	if initializedCollections[key] {
		return nil
	}

	models := []mongod.IndexModel{
		{
			Keys:    bson.D{{Key: "intendedAt", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if ttl > 0 {
		models = append(models, mongod.IndexModel{
			Keys:    bson.D{{Key: "startedAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(ttl)),
		})
	}

	if _, err := s.col.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("syncedcron/mongo: create indexes on %s: %w", s.col.Name(), err)
	}

	initializedCollections[key] = true
	s.logger.Debug("history indexes ensured",
		slog.String("collection", s.col.Name()),
		slog.Int("ttl_seconds", ttl),
	)
	return nil
}

// Ping implements history.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.col.Database().Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error { return nil }

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if mongod.IsDuplicateKeyError(err) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}
