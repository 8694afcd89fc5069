// Package sqlite is the default activity store, a single-file database via
// the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rajchinnag/Death-Switch/internal/activity"
	"github.com/rajchinnag/Death-Switch/internal/model"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS activity_log (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		ts_unix_nano  INTEGER NOT NULL,
		activity_type TEXT    NOT NULL,
		origin        TEXT    NOT NULL DEFAULT '',
		note          TEXT    NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_log_type ON activity_log(activity_type, id)`,
	`CREATE TRIGGER IF NOT EXISTS activity_log_no_update BEFORE UPDATE ON activity_log
	 BEGIN SELECT RAISE(ABORT, 'activity_log is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS activity_log_no_delete BEFORE DELETE ON activity_log
	 BEGIN SELECT RAISE(ABORT, 'activity_log is append-only'); END`,
}

// Open opens (or creates) the database at path in WAL mode with full fsync
// and ensures the schema exists.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// single writer keeps the clamp-then-insert transaction serialized
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the activity log table if missing.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

// New opens the database at path and returns a store over it.
func New(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already-open database with the schema in place.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Store implements activity.Store on SQLite.
type Store struct{ db *sql.DB }

var _ activity.Store = (*Store)(nil)

func (s *Store) Append(ctx context.Context, rec model.ActivityRecord) (model.ActivityRecord, error) {
	if err := activity.Validate(rec); err != nil {
		return model.ActivityRecord{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ActivityRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var newest int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(ts_unix_nano), 0) FROM activity_log`).Scan(&newest); err != nil {
		return model.ActivityRecord{}, err
	}
	ts := rec.Timestamp.UnixNano()
	if ts < newest {
		ts = newest
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO activity_log (ts_unix_nano, activity_type, origin, note) VALUES (?, ?, ?, ?)`,
		ts, string(rec.Type), rec.Origin, rec.Note)
	if err != nil {
		return model.ActivityRecord{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.ActivityRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.ActivityRecord{}, err
	}
	rec.ID = id
	rec.Timestamp = time.Unix(0, ts).UTC()
	return rec, nil
}

func (s *Store) Last(ctx context.Context, types ...model.ActivityType) (model.ActivityRecord, error) {
	where, args := typeFilter(types)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts_unix_nano, activity_type, origin, note FROM activity_log`+where+` ORDER BY id DESC LIMIT 1`, args...)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ActivityRecord{}, model.ErrNotFound
	}
	return rec, err
}

func (s *Store) Recent(ctx context.Context, limit int) ([]model.ActivityRecord, error) {
	if limit <= 0 {
		limit = activity.DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts_unix_nano, activity_type, origin, note FROM activity_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ActivityRecord, 0, limit)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Replay(ctx context.Context, fn func(model.ActivityRecord) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts_unix_nano, activity_type, origin, note FROM activity_log ORDER BY id ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Count(ctx context.Context, types ...model.ActivityType) (int, error) {
	where, args := typeFilter(types)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log`+where, args...).Scan(&n)
	return n, err
}

// HealthPing implements health.Pinger.
func (s *Store) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func typeFilter(types []model.ActivityType) (string, []any) {
	if len(types) == 0 {
		return "", nil
	}
	marks := make([]string, len(types))
	args := make([]any, len(types))
	for i, t := range types {
		marks[i] = "?"
		args[i] = string(t)
	}
	return " WHERE activity_type IN (" + strings.Join(marks, ",") + ")", args
}

type scanner interface{ Scan(dest ...any) error }

func scan(r scanner) (model.ActivityRecord, error) {
	var (
		rec model.ActivityRecord
		ts  int64
		typ string
	)
	if err := r.Scan(&rec.ID, &ts, &typ, &rec.Origin, &rec.Note); err != nil {
		return model.ActivityRecord{}, err
	}
	rec.Timestamp = time.Unix(0, ts).UTC()
	rec.Type = model.ActivityType(typ)
	return rec, nil
}
