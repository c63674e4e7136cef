package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/artifact"
	"github.com/sells-group/leadscout/internal/extract"
)

// finalize dedups and ranks the leads, builds the summary, writes the
// artifacts and, when configured, the lead store. Artifacts go first so a
// store outage still leaves the run on disk.
func (r *run) finalize(ctx context.Context) (*Result, error) {
	r.enter(StateFinalize)
	res := r.result

	leads := extract.DedupLeads(r.leads)
	extract.RankLeads(leads)
	res.Leads = leads

	r.stats.AccessStats = r.o.deps.Access.Snapshot()
	if r.stats.DriverErrors == nil {
		r.stats.DriverErrors = map[string]int{}
	}

	finished := r.o.now()
	s := &res.Summary
	s.RunID = r.id
	s.StartedAt = r.start.UTC()
	s.FinishedAt = finished.UTC()
	s.DurationSecs = finished.Sub(r.start).Round(time.Millisecond).Seconds()
	s.Platforms = append([]string(nil), r.o.opts.Platforms...)
	s.Keywords = append([]string(nil), r.o.opts.Keywords...)
	s.TimedOutPlatforms = append([]string{}, r.timedOut...)
	s.PostsFound = r.found
	s.PostsRead = r.visited
	s.LeadsRaw = len(r.leads)
	s.Control = r.stats
	s.Tally(leads)

	// The summary lists every state the run went through, done included.
	s.States = make([]string, 0, len(res.States)+1)
	for _, st := range res.States {
		s.States = append(s.States, string(st))
	}
	s.States = append(s.States, string(StateDone))

	if r.o.deps.Writer != nil {
		paths, err := r.o.deps.Writer.Write(artifact.Bundle{
			Summary: *s,
			Posts:   res.Posts,
			Reads:   res.Reads,
			Leads:   leads,
		})
		res.Paths = paths
		if err != nil {
			r.log.Error("artifact write failed", zap.Error(err))
			return res, err
		}
	}

	if st := r.o.deps.Store; st != nil {
		inserted, err := st.InsertLeads(ctx, leads)
		if err != nil {
			r.log.Error("lead store insert failed", zap.Error(err))
			return res, &artifact.PersistenceError{Path: "store", Err: err}
		}
		s.LeadsInserted = inserted
		if err := st.RecordRun(ctx, *s); err != nil {
			r.log.Warn("run summary not stored", zap.Error(err))
		}
	}

	r.enter(StateDone)
	r.log.Info("run finished",
		zap.Int("posts_found", s.PostsFound),
		zap.Int("posts_read", s.PostsRead),
		zap.Int("leads", s.LeadsTotal),
		zap.Int("inserted", s.LeadsInserted),
		zap.Bool("global_timeout", s.Control.GlobalTimeout),
		zap.Float64("duration_secs", s.DurationSecs),
	)
	return res, nil
}
