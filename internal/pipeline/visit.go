package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/extract"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/platform"
	"github.com/sells-group/leadscout/internal/session"
)

// visit opens a candidate and reads its comments. Lazy comment containers
// get one scroll and a second evaluation; the reply with more comments
// wins. Failures come back as a read_failed:<kind> status, never an error.
func (r *run) visit(ctx context.Context, p *platform.Platform, cand model.PostCandidate) model.PostRead {
	d := r.o.deps.Driver
	opts := r.o.opts
	read := model.PostRead{
		Platform: p.Name,
		Keyword:  cand.Keyword,
		PostURL:  cand.PostURL,
		URL:      cand.PostURL,
		ReadAt:   r.o.now().UTC(),
	}

	if err := r.checkGlobal(); err != nil {
		return failedRead(read, err)
	}
	tab, err := d.Open(ctx, cand.PostURL)
	if err != nil {
		r.countDriverError(err)
		return failedRead(read, err)
	}
	defer r.closeTab(ctx, tab.ID)

	script := extract.CommentScript(p, opts.MaxCommentsPerPost)
	var raw json.RawMessage
	err = r.runSteps([]func() error{
		func() error { return d.WaitLoad(ctx, tab.ID, opts.LoadTimeout) },
		func() error { return d.Wait(ctx, tab.ID, r.pace.between(readSettleMin, readSettleMax)) },
		func() error {
			var err error
			raw, err = d.Evaluate(ctx, tab.ID, script, opts.EvalTimeout)
			return err
		},
	})
	if err != nil {
		return failedRead(read, err)
	}
	payload := r.decodeRead(p, raw)

	if len(payload.Comments) == 0 {
		if err := r.scroll(ctx, tab.ID, 1); err != nil {
			return failedRead(read, err)
		}
		var raw2 json.RawMessage
		err := r.runSteps([]func() error{func() error {
			var err error
			raw2, err = d.Evaluate(ctx, tab.ID, script, opts.EvalTimeout)
			return err
		}})
		switch {
		case err != nil:
			var be *BudgetError
			if errors.As(err, &be) {
				return failedRead(read, err)
			}
			r.log.Debug("second comment read failed", zap.String("post_url", cand.PostURL), zap.Error(err))
		default:
			if retry := r.decodeRead(p, raw2); len(retry.Comments) > len(payload.Comments) {
				payload = retry
			}
		}
	}

	read.Title = payload.Title
	read.Preview = payload.Preview
	read.Comments = payload.Comments
	if payload.URL != "" {
		read.URL = payload.URL
	}
	read.Status = model.ReadOK
	if len(read.Comments) == 0 {
		read.Status = model.ReadNoComments
	}
	return read
}

func (r *run) decodeRead(p *platform.Platform, raw json.RawMessage) extract.ReadPayload {
	payload, err := extract.DecodeRead(p.Name, raw)
	if err != nil {
		r.stats.ExtractionErrors++
		r.log.Debug("read payload unusable", zap.String("platform", p.Name), zap.Error(err))
		return extract.ReadPayload{}
	}
	return payload
}

// failedRead marks read as failed with the error's kind.
func failedRead(read model.PostRead, err error) model.PostRead {
	kind := "error"
	var be *BudgetError
	switch {
	case errors.As(err, &be):
		kind = "budget"
	case session.KindOf(err) != "":
		kind = string(session.KindOf(err))
	}
	read.Status = model.ReadFailed + ":" + kind
	return read
}
