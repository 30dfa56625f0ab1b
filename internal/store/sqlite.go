package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/veldt-labs/veldt-core/internal/config"
	_ "modernc.org/sqlite"
)

// DB wraps the shared SQLite handle. Multiple typed stores attach to one DB
// under distinct namespaces.
type DB struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenDB initializes the record database according to config.
func OpenDB(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*DB, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	d := &DB{db: db, log: log}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("record store vacuum failed", slog.String("error", err.Error()))
		}
	}

	return d, nil
}

func (d *DB) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS records (
    ns TEXT NOT NULL,
    key TEXT NOT NULL,
    value BLOB,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY(ns, key)
);
CREATE INDEX IF NOT EXISTS idx_records_ns_updated ON records(ns, updated_at);
`
	_, err := d.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SQLite is the durable backend for one namespace of the shared DB. Values
// are stored JSON-encoded so the table stays type-agnostic while call sites
// keep their static types.
type SQLite[T any] struct {
	db    *DB
	ns    string
	clock func() time.Time
}

// NewSQLite attaches a typed store to db under the given namespace.
func NewSQLite[T any](db *DB, namespace string) *SQLite[T] {
	return &SQLite[T]{db: db, ns: namespace, clock: time.Now}
}

// Save upserts the record for key. The row write is serialized by SQLite, so
// completion order decides the surviving value.
func (s *SQLite[T]) Save(ctx context.Context, key string, value T) (Record[T], error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Record[T]{}, fmt.Errorf("encode record %q: %w", key, err)
	}
	updatedAt := s.clock().UnixMilli()
	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO records(ns, key, value, updated_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(ns, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		s.ns, key, data, updatedAt)
	if err != nil {
		return Record[T]{}, fmt.Errorf("save record %q: %w", key, err)
	}
	return Record[T]{Key: key, Value: value, UpdatedAt: updatedAt}, nil
}

// Load fetches the record for key. A missing key is reported via ok, never
// as an error.
func (s *SQLite[T]) Load(ctx context.Context, key string) (Record[T], bool, error) {
	var (
		data      []byte
		updatedAt int64
	)
	row := s.db.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM records WHERE ns = ? AND key = ?`, s.ns, key)
	if err := row.Scan(&data, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record[T]{}, false, nil
		}
		return Record[T]{}, false, fmt.Errorf("load record %q: %w", key, err)
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return Record[T]{}, false, fmt.Errorf("decode record %q: %w", key, err)
	}
	return Record[T]{Key: key, Value: value, UpdatedAt: updatedAt}, true, nil
}

// Remove deletes the record for key, reporting whether a row existed.
func (s *SQLite[T]) Remove(ctx context.Context, key string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx,
		`DELETE FROM records WHERE ns = ? AND key = ?`, s.ns, key)
	if err != nil {
		return false, fmt.Errorf("remove record %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove record %q: %w", key, err)
	}
	return n > 0, nil
}
