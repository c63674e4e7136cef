// Package store persists accepted leads and run summaries for downstream
// tools. Inserts are idempotent: a lead already stored under the same
// (platform, link) pair is ignored.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/model"
)

// evidenceRunes bounds the evidence_text column.
const evidenceRunes = 280

// RunRecord is one stored run summary.
type RunRecord struct {
	ID            string           `json:"id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	LeadsTotal    int              `json:"leads_total"`
	LeadsInserted int              `json:"leads_inserted"`
	Summary       model.RunSummary `json:"summary"`
}

// LeadStore defines the downstream persistence for acquisition runs.
type LeadStore interface {
	// InsertLeads stores leads and returns how many were new.
	InsertLeads(ctx context.Context, leads []model.Lead) (int, error)
	CountLeads(ctx context.Context) (int, error)

	RecordRun(ctx context.Context, summary model.RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects the store selected by cfg and applies migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (LeadStore, error) {
	var (
		s   LeadStore
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.Path)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// leadArgs is the column order shared by both backends' insert statements.
func leadArgs(l model.Lead) []any {
	return []any{
		l.Platform,
		l.Link(),
		l.Keyword,
		l.PostURL,
		l.SourceURL,
		l.Author,
		l.AuthorURL,
		l.Content,
		model.TruncateRunes(l.Content, evidenceRunes),
		l.Score,
		string(l.Grade),
		l.Confidence,
		string(l.Stage),
		l.FunnelReason,
		l.SuggestedReply,
		l.AccessHint,
		l.CollectedAt.UTC(),
	}
}

const leadColumns = `platform, link, keyword, post_url, source_url, author, author_url, content,
	 evidence_text, score, grade, confidence, stage, funnel_reason, suggested_reply,
	 access_hint, collected_at`
