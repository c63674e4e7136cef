package access

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // register driver
)

// SQLiteStore implements Store on a WAL-mode SQLite file. Timestamps are
// stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "access: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "access: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "access: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const accessMigration = `
CREATE TABLE IF NOT EXISTS access_records (
	kind          TEXT NOT NULL,
	platform      TEXT NOT NULL,
	identifier    TEXT NOT NULL,
	last_visit_at INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	PRIMARY KEY (kind, platform, identifier)
);

CREATE INDEX IF NOT EXISTS idx_access_records_expires_at ON access_records(expires_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, accessMigration)
	return eris.Wrap(err, "access: migrate")
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, kind Kind, platform, identifier string) (*Record, error) {
	var last, exp int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_visit_at, expires_at FROM access_records WHERE kind = ? AND platform = ? AND identifier = ?`,
		string(kind), platform, identifier,
	).Scan(&last, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "access: get %s/%s", kind, platform)
	}
	return &Record{
		Kind:        kind,
		Platform:    platform,
		Identifier:  identifier,
		LastVisitAt: time.UnixMilli(last).UTC(),
		ExpiresAt:   time.UnixMilli(exp).UTC(),
	}, nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_records (kind, platform, identifier, last_visit_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(kind, platform, identifier)
		 DO UPDATE SET last_visit_at = excluded.last_visit_at, expires_at = excluded.expires_at`,
		string(rec.Kind), rec.Platform, rec.Identifier, rec.LastVisitAt.UnixMilli(), rec.ExpiresAt.UnixMilli(),
	)
	return eris.Wrapf(err, "access: upsert %s/%s", rec.Kind, rec.Platform)
}

// DeleteExpired implements Store.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_records WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "access: delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "access: delete expired rows affected")
}

// EvictOldest implements Store.
func (s *SQLiteStore) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM access_records WHERE rowid IN (
			SELECT rowid FROM access_records ORDER BY expires_at ASC, last_visit_at ASC LIMIT ?
		)`, n)
	if err != nil {
		return 0, eris.Wrap(err, "access: evict oldest")
	}
	affected, err := res.RowsAffected()
	return int(affected), eris.Wrap(err, "access: evict rows affected")
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_records`).Scan(&n)
	return n, eris.Wrap(err, "access: count")
}

// CountByKind implements Store.
func (s *SQLiteStore) CountByKind(ctx context.Context) (map[Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM access_records GROUP BY kind`)
	if err != nil {
		return nil, eris.Wrap(err, "access: count by kind")
	}
	defer rows.Close() //nolint:errcheck

	out := map[Kind]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, eris.Wrap(err, "access: scan count")
		}
		out[Kind(kind)] = n
	}
	return out, eris.Wrap(rows.Err(), "access: iterate counts")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
