package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/store"
)

// MetricsSnapshot aggregates the most recent stored runs.
type MetricsSnapshot struct {
	Runs          int       `json:"runs"`
	LeadsTotal    int       `json:"leads_total"`
	LeadsInserted int       `json:"leads_inserted"`
	ZeroLeadRuns  int       `json:"zero_lead_runs"`
	TimeoutRuns   int       `json:"timeout_runs"`
	BlockedPages  int       `json:"blocked_pages"`
	PostsRead     int       `json:"posts_read"`
	AvgLeads      float64   `json:"avg_leads"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the subset of store.LeadStore the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Collector gathers metrics from the run history.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect summarizes the last n runs, newest first.
func (c *Collector) Collect(ctx context.Context, n int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	runs, err := c.runs.ListRuns(ctx, n)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.Runs = len(runs)
	for i, r := range runs {
		if i == 0 {
			snap.LastRunID = r.ID
			snap.LastRunAt = r.FinishedAt
		}
		snap.LeadsTotal += r.LeadsTotal
		snap.LeadsInserted += r.LeadsInserted
		if r.LeadsTotal == 0 {
			snap.ZeroLeadRuns++
		}
		if r.Summary.Control.GlobalTimeout || len(r.Summary.TimedOutPlatforms) > 0 {
			snap.TimeoutRuns++
		}
		snap.BlockedPages += r.Summary.Control.BlockedPages
		snap.PostsRead += r.Summary.PostsRead
	}
	if snap.Runs > 0 {
		snap.AvgLeads = float64(snap.LeadsTotal) / float64(snap.Runs)
	}
	return snap, nil
}
