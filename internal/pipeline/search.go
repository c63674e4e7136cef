package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/extract"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/platform"
)

// Tab wait windows, drawn uniformly.
const (
	searchSettleMin = 900 * time.Millisecond
	searchSettleMax = 1500 * time.Millisecond
	retrySettleMin  = 1200 * time.Millisecond
	retrySettleMax  = 1800 * time.Millisecond
	readSettleMin   = 700 * time.Millisecond
	readSettleMax   = 1300 * time.Millisecond
	scrollSettleMin = 700 * time.Millisecond
	scrollSettleMax = 1300 * time.Millisecond
)

// search loads one result page per sort mode and merges the links into
// candidates. It fails only when every sort mode failed.
func (r *run) search(ctx context.Context, p *platform.Platform, keyword string) ([]model.PostCandidate, error) {
	modes := p.SortModesFor(r.o.opts.SortMode)

	var (
		pages   []extract.SearchPage
		lastErr error
	)
	for i, mode := range modes {
		url := p.SearchURLFor(keyword, mode)
		rounds := r.o.opts.ScrollRounds
		if i > 0 {
			rounds = 1
		}
		links, err := r.searchPage(ctx, p, url, mode, rounds)
		if err != nil {
			var be *BudgetError
			if errors.As(err, &be) {
				return nil, err
			}
			lastErr = err
			r.log.Debug("search page failed",
				zap.String("platform", p.Name),
				zap.String("sort_mode", mode),
				zap.Error(err),
			)
			continue
		}
		pages = append(pages, extract.SearchPage{SortMode: mode, SearchURL: url, Links: links})
	}
	if len(pages) == 0 {
		return nil, lastErr
	}
	return r.o.deps.Extractor.Candidates(p, keyword, pages, r.o.opts.MaxPostsPerKeyword), nil
}

// searchPage drives one result tab: open, settle, scroll, evaluate. An
// empty "latest" page gets one more scroll and evaluation, since that
// ordering renders lazily. The tab is always closed.
func (r *run) searchPage(ctx context.Context, p *platform.Platform, url, mode string, rounds int) ([]extract.RawLink, error) {
	d := r.o.deps.Driver
	opts := r.o.opts

	if err := r.checkGlobal(); err != nil {
		return nil, err
	}
	tab, err := d.Open(ctx, url)
	if err != nil {
		r.countDriverError(err)
		return nil, err
	}
	defer r.closeTab(ctx, tab.ID)

	steps := []func() error{
		func() error { return d.WaitLoad(ctx, tab.ID, opts.LoadTimeout) },
		func() error { return d.Wait(ctx, tab.ID, r.pace.between(searchSettleMin, searchSettleMax)) },
	}
	if err := r.runSteps(steps); err != nil {
		return nil, err
	}
	if err := r.scroll(ctx, tab.ID, rounds); err != nil {
		return nil, err
	}

	script := extract.SearchScript(p, opts.MaxPostsPerKeyword)
	links, err := r.evalLinks(ctx, p, tab.ID, script)
	if err != nil {
		return nil, err
	}
	if mode == model.SortLatest && len(links) == 0 {
		retry := []func() error{
			func() error { return d.Wait(ctx, tab.ID, r.pace.between(retrySettleMin, retrySettleMax)) },
		}
		if err := r.runSteps(retry); err != nil {
			return nil, err
		}
		if err := r.scroll(ctx, tab.ID, 1); err != nil {
			return nil, err
		}
		if links, err = r.evalLinks(ctx, p, tab.ID, script); err != nil {
			return nil, err
		}
	}
	return links, nil
}

func (r *run) evalLinks(ctx context.Context, p *platform.Platform, tabID, script string) ([]extract.RawLink, error) {
	var raw json.RawMessage
	err := r.runSteps([]func() error{func() error {
		var err error
		raw, err = r.o.deps.Driver.Evaluate(ctx, tabID, script, r.o.opts.EvalTimeout)
		return err
	}})
	if err != nil {
		return nil, err
	}
	links, err := extract.DecodeLinks(p, raw)
	if err != nil {
		r.stats.ExtractionErrors++
		r.log.Debug("search payload unusable", zap.String("platform", p.Name), zap.Error(err))
		return nil, nil
	}
	return links, nil
}

// runSteps runs driver calls in order, checking the global budget before
// each one.
func (r *run) runSteps(steps []func() error) error {
	for _, step := range steps {
		if err := r.checkGlobal(); err != nil {
			return err
		}
		if err := step(); err != nil {
			r.countDriverError(err)
			return err
		}
	}
	return nil
}

// scroll presses PageDown rounds times with a settle wait after each.
// Individual failures are counted and ignored.
func (r *run) scroll(ctx context.Context, tabID string, rounds int) error {
	d := r.o.deps.Driver
	for range max(1, rounds) {
		if err := r.checkGlobal(); err != nil {
			return err
		}
		if err := d.Press(ctx, tabID, "PageDown"); err != nil {
			r.countDriverError(err)
			continue
		}
		if err := r.checkGlobal(); err != nil {
			return err
		}
		if err := d.Wait(ctx, tabID, r.pace.between(scrollSettleMin, scrollSettleMax)); err != nil {
			r.countDriverError(err)
		}
	}
	return nil
}

func (r *run) closeTab(ctx context.Context, tabID string) {
	if tabID == "" {
		return
	}
	if err := r.o.deps.Driver.Close(context.WithoutCancel(ctx), tabID); err != nil {
		r.countDriverError(err)
		r.log.Debug("tab close failed", zap.String("target", tabID), zap.Error(err))
	}
}
