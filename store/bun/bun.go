// Package bunstore implements history.Store on PostgreSQL via the Bun
// ORM. The UNIQUE(name, intended_at) constraint is the lease primitive;
// TTL expiry is emulated with a purge of stale rows on access, since
// Postgres has no native document TTL.
package bunstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/Anonyfox/meteor-synced-cron/history"
	"github.com/Anonyfox/meteor-synced-cron/id"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ history.Store = (*Store)(nil)

// Store is a Bun implementation of history.Store using the PostgreSQL
// dialect. The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
	ttl    time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a new Bun store. The caller owns the db lifecycle; the
// Store will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB { return s.db }

type recordModel struct {
	bun.BaseModel `bun:"table:syncedcron_history"`

	ID         string     `bun:"id,pk"`
	Name       string     `bun:"name,notnull"`
	IntendedAt time.Time  `bun:"intended_at,notnull"`
	StartedAt  time.Time  `bun:"started_at,notnull"`
	FinishedAt *time.Time `bun:"finished_at"`
	Result     []byte     `bun:"result,type:jsonb"`
	Error      string     `bun:"error"`
}

func toModel(rec *history.Record) (*recordModel, error) {
	var result []byte
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return nil, fmt.Errorf("syncedcron/bun: marshal result: %w", err)
		}
		result = data
	}
	return &recordModel{
		ID:         rec.ID.String(),
		Name:       rec.Name,
		IntendedAt: rec.IntendedAt.UTC(),
		StartedAt:  rec.StartedAt.UTC(),
		FinishedAt: rec.FinishedAt,
		Result:     result,
		Error:      rec.Error,
	}, nil
}

func fromModel(m *recordModel) (*history.Record, error) {
	rid, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("syncedcron/bun: bad record id %q: %w", m.ID, err)
	}
	rec := &history.Record{
		ID:         rid,
		Name:       m.Name,
		IntendedAt: m.IntendedAt,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Error:      m.Error,
	}
	if len(m.Result) > 0 {
		var v any
		if err := json.Unmarshal(m.Result, &v); err != nil {
			return nil, fmt.Errorf("syncedcron/bun: unmarshal result: %w", err)
		}
		rec.Result = v
	}
	return rec, nil
}

// InsertRecord implements history.Store.
func (s *Store) InsertRecord(ctx context.Context, rec *history.Record) error {
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return history.ErrDuplicateFiring
		}
		return fmt.Errorf("syncedcron/bun: insert record: %w", err)
	}
	return nil
}

// UpdateRecord implements history.Store.
func (s *Store) UpdateRecord(ctx context.Context, rec *history.Record) error {
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	res, err := s.db.NewUpdate().
		Model(m).
		Column("finished_at", "result", "error").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("syncedcron/bun: update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrRecordNotFound
	}
	return nil
}

// ListRecent implements history.Store.
func (s *Store) ListRecent(ctx context.Context, name string, limit int) ([]*history.Record, error) {
	if err := s.purgeExpired(ctx); err != nil {
		return nil, err
	}

	var models []recordModel
	q := s.db.NewSelect().
		Model(&models).
		Where("name = ?", name).
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("syncedcron/bun: list records: %w", err)
	}

	out := make([]*history.Record, 0, len(models))
	for i := range models {
		rec, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// purgeExpired deletes rows older than the TTL.
func (s *Store) purgeExpired(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*recordModel)(nil)).
		Where("started_at < ?", time.Now().UTC().Add(-s.ttl)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("syncedcron/bun: purge expired records: %w", err)
	}
	return nil
}

// EnsureIndexes implements history.Store: it runs the embedded SQL
// migrations (which create the table and unique index) and records the
// TTL for the purge-on-access expiry. The collection name is ignored
// since the table name is fixed by the migrations.
func (s *Store) EnsureIndexes(ctx context.Context, _ string, ttl int) error {
	s.ttl = time.Duration(ttl) * time.Second
	return s.migrate(ctx)
}

// migrate runs all embedded SQL migration files in order.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS syncedcron_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("syncedcron/bun: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("syncedcron/bun: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM syncedcron_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("syncedcron/bun: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("syncedcron/bun: read migration %s: %w", entry.Name(), readErr)
		}
		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("syncedcron/bun: execute migration %s: %w", entry.Name(), execErr)
		}
		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO syncedcron_migrations (filename) VALUES (?)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("syncedcron/bun: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error { return nil }

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}
