package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/access"
	"github.com/sells-group/leadscout/internal/artifact"
	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/extract"
	"github.com/sells-group/leadscout/internal/funnel"
	"github.com/sells-group/leadscout/internal/pipeline"
	"github.com/sells-group/leadscout/internal/platform"
	"github.com/sells-group/leadscout/internal/rules"
	"github.com/sells-group/leadscout/internal/session"
	"github.com/sells-group/leadscout/internal/store"
	"github.com/sells-group/leadscout/internal/textutil"
)

// runEnv holds the collaborators shared by acquire and schedule.
type runEnv struct {
	Registry *platform.Registry
	Vertical *rules.Vertical
	Access   *access.Controller
	Funnel   *funnel.Engine
	Store    store.LeadStore
	Driver   session.Driver
	Writer   *artifact.Writer
	Opts     pipeline.Options
}

func initRegistry(c *config.Config) (*platform.Registry, error) {
	reg, err := platform.NewDefaultRegistry(platform.FromConfig(c.Platforms)...)
	if err != nil {
		return nil, eris.Wrap(err, "init platform registry")
	}
	return reg, nil
}

func initRuleSet(c *config.Config) (*rules.Set, error) {
	var (
		set *rules.Set
		err error
	)
	if c.Funnel.RulesPath != "" {
		set, err = rules.Load(c.Funnel.RulesPath)
	} else {
		set, err = rules.Default()
	}
	if err != nil {
		return nil, eris.Wrap(err, "init rules")
	}
	return set, nil
}

func initVertical(c *config.Config) (*rules.Vertical, error) {
	set, err := initRuleSet(c)
	if err != nil {
		return nil, err
	}
	v, name := set.Vertical(c.Funnel.Vertical)
	if c.Funnel.Vertical != "" && name != textutil.Fold(c.Funnel.Vertical) {
		zap.L().Warn("unknown vertical, using default",
			zap.String("requested", c.Funnel.Vertical),
			zap.String("using", name),
		)
	}
	return v, nil
}

func initFunnel(c *config.Config, v *rules.Vertical) (*funnel.Engine, error) {
	if !c.Funnel.Enabled {
		return nil, nil
	}
	corpus, err := funnel.LoadCorpus(c.Funnel.KnowledgeDir)
	if err != nil {
		return nil, eris.Wrap(err, "init funnel corpus")
	}
	zap.L().Info("funnel enabled",
		zap.String("vertical", v.Name),
		zap.Int("corpus_docs", corpus.Len()),
		zap.Int("min_confidence", c.Funnel.MinConfidence),
	)
	return funnel.New(v, corpus, c.Funnel.TopK), nil
}

func initStore(ctx context.Context, c *config.Config) (store.LeadStore, error) {
	if !c.Store.Enabled {
		return nil, nil
	}
	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init lead store")
	}
	return st, nil
}

// initEnv builds everything a run needs. The caller must Close the result.
func initEnv(ctx context.Context, c *config.Config) (*runEnv, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	env := &runEnv{}
	var err error
	if env.Registry, err = initRegistry(c); err != nil {
		return nil, err
	}
	if env.Vertical, err = initVertical(c); err != nil {
		return nil, err
	}
	if env.Funnel, err = initFunnel(c, env.Vertical); err != nil {
		return nil, err
	}
	if env.Driver, err = session.New(c.Driver); err != nil {
		return nil, eris.Wrap(err, "init session driver")
	}
	if env.Access, err = access.Open(ctx, c.Access); err != nil {
		return nil, eris.Wrap(err, "init access control")
	}
	if env.Store, err = initStore(ctx, c); err != nil {
		env.Close()
		return nil, err
	}
	env.Writer = artifact.FromConfig(c.Artifacts)

	env.Opts = pipeline.OptionsFromConfig(c.Acquire, c.Funnel)
	names, unknown := env.Registry.Parse(strings.Join(c.Acquire.Platforms, ","))
	if len(unknown) > 0 {
		zap.L().Warn("unknown platforms ignored", zap.Strings("platforms", unknown))
	}
	env.Opts.Platforms = names
	env.Opts.Keywords = parseKeywords(c.Acquire.Keywords)
	return env, nil
}

// Orchestrator wires a fresh orchestrator over env.
func (e *runEnv) Orchestrator() *pipeline.Orchestrator {
	return pipeline.New(pipeline.Deps{
		Registry:  e.Registry,
		Driver:    e.Driver,
		Extractor: extract.New(e.Vertical),
		Access:    e.Access,
		Funnel:    e.Funnel,
		Writer:    e.Writer,
		Store:     e.Store,
	}, e.Opts)
}

// Close releases the stores.
func (e *runEnv) Close() {
	if e.Access != nil {
		if err := e.Access.Close(); err != nil {
			zap.L().Warn("close access store", zap.Error(err))
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close lead store", zap.Error(err))
		}
	}
}

// parseKeywords splits comma-joined entries, drops blanks and duplicates,
// and falls back to the default keywords.
func parseKeywords(raw []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, entry := range raw {
		for _, kw := range strings.Split(entry, ",") {
			kw = textutil.NormalizeSpace(kw)
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), config.DefaultKeywords...)
	}
	return out
}
