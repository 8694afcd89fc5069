// Package postgres is the activity store for deployments that already run
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rajchinnag/Death-Switch/internal/activity"
	"github.com/rajchinnag/Death-Switch/internal/model"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS activity_log (
		id            BIGSERIAL PRIMARY KEY,
		ts            TIMESTAMPTZ NOT NULL,
		activity_type TEXT        NOT NULL,
		origin        TEXT        NOT NULL DEFAULT '',
		note          TEXT        NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_log_type ON activity_log(activity_type, id)`,
	`CREATE OR REPLACE RULE activity_log_no_update AS ON UPDATE TO activity_log DO INSTEAD NOTHING`,
	`CREATE OR REPLACE RULE activity_log_no_delete AS ON DELETE TO activity_log DO INSTEAD NOTHING`,
}

// appendLock serializes appenders so the clamp reads a stable maximum.
const appendLock = 0x6465_6164 // "dead"

// Open opens a PostgreSQL connection using the pgx stdlib driver, verifies
// connectivity and ensures the schema exists.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
	}
	return db, nil
}

// New opens dsn and returns a store over it.
func New(dsn string) (*Store, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already-open database with the schema in place.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Store implements activity.Store on PostgreSQL.
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

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLock); err != nil {
		return model.ActivityRecord{}, err
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO activity_log (ts, activity_type, origin, note)
		 SELECT GREATEST($1::timestamptz, COALESCE(MAX(ts), $1::timestamptz)), $2, $3, $4 FROM activity_log
		 RETURNING id, ts`,
		rec.Timestamp.UTC(), string(rec.Type), rec.Origin, rec.Note).Scan(&rec.ID, &rec.Timestamp)
	if err != nil {
		return model.ActivityRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.ActivityRecord{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

func (s *Store) Last(ctx context.Context, types ...model.ActivityType) (model.ActivityRecord, error) {
	var row *sql.Row
	if len(types) == 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, ts, activity_type, origin, note FROM activity_log ORDER BY id DESC LIMIT 1`)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, ts, activity_type, origin, note FROM activity_log
			 WHERE activity_type = ANY($1) ORDER BY id DESC LIMIT 1`, activity.TypeStrings(types))
	}
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
		`SELECT id, ts, activity_type, origin, note FROM activity_log ORDER BY id DESC LIMIT $1`, limit)
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
		`SELECT id, ts, activity_type, origin, note FROM activity_log ORDER BY id ASC`)
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
	var n int
	var err error
	if len(types) == 0 {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activity_log WHERE activity_type = ANY($1)`, activity.TypeStrings(types)).Scan(&n)
	}
	return n, err
}

// HealthPing implements health.Pinger.
func (s *Store) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

type scanner interface{ Scan(dest ...any) error }

func scan(r scanner) (model.ActivityRecord, error) {
	var (
		rec model.ActivityRecord
		typ string
	)
	if err := r.Scan(&rec.ID, &rec.Timestamp, &typ, &rec.Origin, &rec.Note); err != nil {
		return model.ActivityRecord{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Type = model.ActivityType(typ)
	return rec, nil
}
