// Package pipeline runs one acquisition pass: search every keyword on every
// platform, visit the candidates, score and gate the leads, and hand the
// result to the artifact writer and lead store. It runs on a single
// goroutine; the browser session is shared and pacing matters more than
// throughput.
package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/access"
	"github.com/sells-group/leadscout/internal/artifact"
	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/extract"
	"github.com/sells-group/leadscout/internal/funnel"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/platform"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/internal/session"
	"github.com/sells-group/leadscout/internal/store"
)

// State is a step of the run state machine.
type State string

const (
	StateInit            State = "init"
	StateRunning         State = "running"
	StatePlatformTimeout State = "platform_timeout"
	StateGlobalTimeout   State = "global_timeout"
	StateFinalize        State = "finalize"
	StateDone            State = "done"
)

// Options tunes one run.
type Options struct {
	Platforms          []string
	Keywords           []string
	MaxPostsPerKeyword int
	MaxCommentsPerPost int
	SortMode           string

	PlatformTimeout time.Duration
	GlobalTimeout   time.Duration
	PaceMin         time.Duration
	PaceMax         time.Duration
	ScrollRounds    int

	// MinConfidence drops leads whose blended confidence is lower. Only
	// applies when a funnel engine is set.
	MinConfidence int

	BreakerFailures int
	BreakerCoolOff  time.Duration

	// LoadTimeout bounds WaitLoad; EvalTimeout bounds each script call.
	LoadTimeout time.Duration
	EvalTimeout time.Duration
}

// OptionsFromConfig converts the acquire and funnel sections, applying the
// timeout floors.
func OptionsFromConfig(a config.AcquireConfig, f config.FunnelConfig) Options {
	return Options{
		Platforms:          a.Platforms,
		Keywords:           a.Keywords,
		MaxPostsPerKeyword: a.MaxPostsPerKeyword,
		MaxCommentsPerPost: a.MaxCommentsPerPost,
		SortMode:           a.SortMode,
		PlatformTimeout:    clampTimeout(a.PlatformTimeoutSecs, MinPlatformTimeout),
		GlobalTimeout:      clampTimeout(a.GlobalTimeoutSecs, MinGlobalTimeout),
		PaceMin:            time.Duration(a.PaceMinMs) * time.Millisecond,
		PaceMax:            time.Duration(a.PaceMaxMs) * time.Millisecond,
		ScrollRounds:       a.ScrollRounds,
		MinConfidence:      f.MinConfidence,
		BreakerFailures:    a.BreakerFailures,
		BreakerCoolOff:     time.Duration(a.BreakerCoolOffSecs) * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if len(o.Keywords) == 0 {
		o.Keywords = config.DefaultKeywords
	}
	if len(o.Platforms) == 0 {
		o.Platforms = []string{platform.DefaultPlatform}
	}
	if o.MaxPostsPerKeyword <= 0 {
		o.MaxPostsPerKeyword = 6
	}
	if o.MaxCommentsPerPost <= 0 {
		o.MaxCommentsPerPost = 24
	}
	if o.PlatformTimeout <= 0 {
		o.PlatformTimeout = 420 * time.Second
	}
	if o.GlobalTimeout <= 0 {
		o.GlobalTimeout = 2400 * time.Second
	}
	if o.ScrollRounds <= 0 {
		o.ScrollRounds = 2
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 30 * time.Second
	}
	if o.EvalTimeout <= 0 {
		o.EvalTimeout = 45 * time.Second
	}
	return o
}

// Deps are the collaborators of a run. Funnel and Store are optional.
type Deps struct {
	Registry  *platform.Registry
	Driver    session.Driver
	Extractor *extract.Extractor
	Access    *access.Controller
	Funnel    *funnel.Engine
	Writer    *artifact.Writer
	Store     store.LeadStore
}

// StartError means the automation backend could not be brought up. No
// artifacts are written.
type StartError struct {
	Backend string
	Err     error
}

func (e *StartError) Error() string {
	return "pipeline: start " + e.Backend + ": " + e.Err.Error()
}

func (e *StartError) Unwrap() error { return e.Err }

// Result is everything a finished run produced.
type Result struct {
	Summary model.RunSummary
	Posts   []model.PostCandidate
	Reads   []model.PostRead
	Leads   []model.Lead
	Paths   artifact.Paths
	States  []State
}

// Orchestrator runs acquisition passes. It is not safe for concurrent use.
type Orchestrator struct {
	deps     Deps
	opts     Options
	now      func() time.Time
	sleep    Sleeper
	rng      *rand.Rand
	breakers *resilience.ServiceBreakers
	log      *zap.Logger
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Access == nil {
		deps.Access = access.Disabled()
	}
	o := &Orchestrator{
		deps:  deps,
		opts:  opts.withDefaults(),
		now:   time.Now,
		sleep: sleepCtx,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		log:   zap.L().With(zap.String("component", "pipeline")),
	}
	o.breakers = o.newBreakers()
	return o
}

func (o *Orchestrator) newBreakers() *resilience.ServiceBreakers {
	return resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: o.opts.BreakerFailures,
		CoolOff:          o.opts.BreakerCoolOff,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			o.log.Warn("platform breaker state change",
				zap.String("platform", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}).WithClock(func() time.Time { return o.now() })
}

// WithClock replaces the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithSleeper replaces the pause implementation.
func (o *Orchestrator) WithSleeper(s Sleeper) *Orchestrator {
	o.sleep = s
	return o
}

// WithSeed makes pacing jitter reproducible.
func (o *Orchestrator) WithSeed(seed uint64) *Orchestrator {
	o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return o
}

// Breakers exposes the per-platform circuit breakers for status reporting.
func (o *Orchestrator) Breakers() *resilience.ServiceBreakers { return o.breakers }

// Run executes one pass. Non-fatal conditions end up in the summary
// counters; the returned error is a *StartError or an
// *artifact.PersistenceError. On a persistence failure the result is still
// returned.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	r := &run{
		o:      o,
		id:     uuid.NewString(),
		start:  o.now(),
		result: &Result{},
	}
	r.log = o.log.With(zap.String("run_id", r.id))
	r.global = budget{scope: ScopeGlobal, start: r.start, limit: o.opts.GlobalTimeout}
	r.pace = newPacer(o.opts.PaceMin, o.opts.PaceMax, o.now, o.sleep, o.rng)
	r.enter(StateInit)

	if err := o.deps.Driver.Start(ctx); err != nil {
		r.log.Error("backend start failed", zap.String("backend", o.deps.Driver.Name()), zap.Error(err))
		return nil, &StartError{Backend: o.deps.Driver.Name(), Err: err}
	}
	defer func() {
		if err := o.deps.Driver.Shutdown(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("backend shutdown failed", zap.Error(err))
		}
	}()

	r.enter(StateRunning)
	r.acquire(ctx)

	return r.finalize(ctx)
}

// run is the mutable state of one pass.
type run struct {
	o      *Orchestrator
	id     string
	start  time.Time
	global budget
	pace   *pacer
	log    *zap.Logger

	stats    model.ControlStats
	result   *Result
	leads    []model.Lead
	timedOut []string
	found    int
	visited  int
}

func (r *run) enter(s State) {
	if n := len(r.result.States); n > 0 && r.result.States[n-1] == s {
		return
	}
	r.result.States = append(r.result.States, s)
	r.log.Info("run state", zap.String("state", string(s)))
}

// checkGlobal returns the global *BudgetError once the run is out of time.
// The first overrun is recorded in the counters and the state list.
func (r *run) checkGlobal() error {
	err := r.global.check(r.o.now())
	if err == nil {
		return nil
	}
	if !r.stats.GlobalTimeout {
		r.stats.GlobalTimeout = true
		r.stats.SkippedGlobalTimeout++
		r.enter(StateGlobalTimeout)
		r.log.Warn("global budget exhausted", zap.Error(err))
	}
	return err
}

func (r *run) globalExceeded() bool { return r.checkGlobal() != nil }

func (r *run) platformExceeded(b budget) bool {
	err := b.check(r.o.now())
	if err == nil {
		return false
	}
	r.stats.SkippedPlatformTimeout++
	r.stats.PlatformTimeouts++
	r.timedOut = append(r.timedOut, b.platform)
	r.enter(StatePlatformTimeout)
	r.log.Warn("platform budget exhausted", zap.String("platform", b.platform), zap.Error(err))
	return true
}

// acquire is the RUNNING state: platform, then keyword, then post order.
func (r *run) acquire(ctx context.Context) {
	opts := r.o.opts
	for _, name := range opts.Platforms {
		if r.globalExceeded() || ctx.Err() != nil {
			return
		}
		p, ok := r.o.deps.Registry.Lookup(name)
		if !ok {
			r.log.Warn("unknown platform skipped", zap.String("platform", name))
			continue
		}
		pb := budget{scope: ScopePlatform, platform: p.Name, start: r.o.now(), limit: opts.PlatformTimeout}
		r.platform(ctx, p, pb)
	}
}

func (r *run) platform(ctx context.Context, p *platform.Platform, pb budget) {
	log := r.log.With(zap.String("platform", p.Name))
	breaker := r.o.breakers.Get(p.Name)

	for _, kw := range r.o.opts.Keywords {
		if r.globalExceeded() || ctx.Err() != nil {
			return
		}
		if r.platformExceeded(pb) {
			return
		}
		if err := breaker.Allow(); err != nil {
			r.stats.SkippedCircuitOpen++
			log.Warn("keyword skipped, platform paused", zap.String("keyword", kw), zap.Error(err))
			continue
		}

		cands, err := r.search(ctx, p, kw)
		if err != nil {
			var be *BudgetError
			if !errors.As(err, &be) {
				breaker.Record(err)
				r.stats.SearchFailures++
				log.Warn("search failed", zap.String("keyword", kw), zap.Error(err))
			}
			continue
		}
		breaker.Record(nil)
		r.found += len(cands)
		r.result.Posts = append(r.result.Posts, cands...)
		log.Info("search done", zap.String("keyword", kw), zap.Int("candidates", len(cands)))

		for _, cand := range cands {
			if r.globalExceeded() || ctx.Err() != nil {
				return
			}
			if r.platformExceeded(pb) {
				return
			}
			r.post(ctx, p, cand)
			if err := r.pace.Pause(ctx, r.global.deadline()); err != nil {
				return
			}
		}
	}
}

// post handles one candidate: video gate, visit, block check, extraction,
// funnel and author gate.
func (r *run) post(ctx context.Context, p *platform.Platform, cand model.PostCandidate) {
	acc := r.o.deps.Access
	log := r.log.With(zap.String("platform", p.Name), zap.String("post_url", cand.PostURL))

	vd, err := acc.ShouldVisitVideo(ctx, p.Name, cand.PostURL)
	if err != nil {
		log.Warn("video check failed, skipping post", zap.Error(err))
		return
	}
	if !vd.Allowed {
		r.stats.SkippedVideoCooldown++
		log.Debug("post in cooldown", zap.Time("last_seen", vd.LastSeen))
		return
	}

	read := r.visit(ctx, p, cand)
	r.visited++
	if read.Failed() {
		r.stats.ReadFailures++
		r.result.Reads = append(r.result.Reads, read)
		return
	}
	if err := acc.Record(ctx, vd); err != nil {
		log.Warn("video touch not recorded", zap.Error(err))
	}

	if blocked, kind := extract.DetectBlock(read); blocked {
		if kind == extract.BlockNoise {
			r.stats.NoisePages++
		} else {
			r.stats.BlockedPages++
		}
		read.Status = model.ReadBlocked
		read.BlockReason = string(kind)
		r.result.Reads = append(r.result.Reads, read)
		log.Info("page unusable", zap.String("reason", string(kind)))
		return
	}
	r.result.Reads = append(r.result.Reads, read)

	leads, fstats := r.o.deps.Extractor.Leads(p, cand, read)
	r.stats.Filtered.Add(fstats)

	for _, l := range leads {
		if !r.applyFunnel(&l, read.Preview) {
			continue
		}
		ud, err := acc.ShouldTouchUser(ctx, p.Name, l.Author, l.AuthorURL)
		if err != nil {
			log.Warn("user check failed, dropping lead", zap.String("author", l.Author), zap.Error(err))
			continue
		}
		if !ud.Allowed {
			r.stats.SkippedUserCooldown++
			continue
		}
		if err := acc.Record(ctx, ud); err != nil {
			log.Warn("user touch not recorded", zap.Error(err))
		}
		r.leads = append(r.leads, l)
	}
}

// applyFunnel blends the funnel verdict into l and reports whether the lead
// clears the minimum confidence.
func (r *run) applyFunnel(l *model.Lead, preview string) bool {
	eng := r.o.deps.Funnel
	if eng == nil {
		l.AccessHint += "|funnel:" + string(l.Stage)
		return true
	}
	fr := eng.Evaluate(l.Platform, l.Keyword, l.Author, l.Content, preview)
	l.Confidence = funnel.Blend(l.RuleConfidence, fr.Confidence)
	l.Stage = fr.Stage
	l.FunnelReason = fr.Reason
	l.MatchedTerms = fr.MatchedTerms
	l.SuggestedReply = fr.SuggestedReply
	l.AccessHint += "|funnel:" + string(l.Stage)

	if l.Confidence < r.o.opts.MinConfidence {
		r.stats.Filtered.LowConfidence++
		return false
	}
	return true
}

// countDriverError tallies err under its driver error kind.
func (r *run) countDriverError(err error) {
	kind := session.KindOf(err)
	if kind == "" {
		return
	}
	r.stats.CountDriverError(string(kind))
}
