package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadscout/internal/model"
)

// SQLiteStore implements LeadStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrap(err, "sqlite: create dir")
			}
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	platform        TEXT NOT NULL,
	link            TEXT NOT NULL,
	keyword         TEXT NOT NULL DEFAULT '',
	post_url        TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	author          TEXT NOT NULL DEFAULT '',
	author_url      TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	evidence_text   TEXT NOT NULL DEFAULT '',
	score           INTEGER NOT NULL DEFAULT 0,
	grade           TEXT NOT NULL DEFAULT '',
	confidence      INTEGER NOT NULL DEFAULT 0,
	stage           TEXT NOT NULL DEFAULT '',
	funnel_reason   TEXT NOT NULL DEFAULT '',
	suggested_reply TEXT NOT NULL DEFAULT '',
	access_hint     TEXT NOT NULL DEFAULT '',
	collected_at    DATETIME NOT NULL,
	UNIQUE (platform, link)
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	started_at     DATETIME NOT NULL,
	finished_at    DATETIME NOT NULL,
	leads_total    INTEGER NOT NULL DEFAULT 0,
	leads_inserted INTEGER NOT NULL DEFAULT 0,
	summary        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_collected_at ON leads(collected_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert leads")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert lead")
	}
	defer stmt.Close()

	inserted := 0
	for _, l := range leads {
		res, err := stmt.ExecContext(ctx, leadArgs(l)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert lead %s", l.PostURL)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit leads")
	}
	return inserted, nil
}

func (s *SQLiteStore) CountLeads(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count leads")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, summary model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, leads_total, leads_inserted, summary)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET finished_at = excluded.finished_at,
		   leads_total = excluded.leads_total, leads_inserted = excluded.leads_inserted,
		   summary = excluded.summary`,
		summary.RunID, summary.StartedAt.UTC(), summary.FinishedAt.UTC(),
		summary.LeadsTotal, summary.LeadsInserted, string(data),
	)
	return eris.Wrapf(err, "sqlite: record run %s", summary.RunID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, leads_total, leads_inserted, summary
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r       RunRecord
			summary string
		)
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.LeadsTotal, &r.LeadsInserted, &summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode run %s", r.ID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

var _ LeadStore = (*SQLiteStore)(nil)
