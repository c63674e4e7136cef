// Package rules loads the keyword tables that drive lead scoring and the
// funnel. Tables are data, not code: the built-in set is embedded and an
// operator file can replace any table per vertical.
package rules

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/textutil"
)

// DefaultVertical is used when a requested vertical is unknown.
const DefaultVertical = "study_abroad"

//go:embed defaults.yaml
var defaultsYAML []byte

// Rule is one weighted term table.
type Rule struct {
	Terms  []string `yaml:"terms"`
	Weight int      `yaml:"weight"`
	Cap    int      `yaml:"cap"`

	folded []string
}

func (r *Rule) prepare() {
	r.folded = make([]string, len(r.Terms))
	for i, t := range r.Terms {
		r.folded[i] = textutil.Fold(t)
	}
	// Fold trims, which would turn "i " into "i"; keep deliberate padding.
	for i, t := range r.Terms {
		if strings.TrimSpace(t) != t && strings.TrimSpace(t) != "" {
			r.folded[i] = strings.ToLower(t)
		}
	}
}

// Hits returns the terms found in folded text, in table order.
func (r *Rule) Hits(folded string) []string {
	if r.folded == nil {
		r.prepare()
	}
	var out []string
	for i, t := range r.folded {
		if t != "" && strings.Contains(folded, t) {
			out = append(out, r.Terms[i])
		}
	}
	return out
}

// Any reports whether any term occurs in folded text.
func (r *Rule) Any(folded string) bool {
	return len(r.Hits(folded)) > 0
}

// Points converts a hit count into weighted points, capped when Cap > 0.
func (r *Rule) Points(hits int) int {
	p := hits * r.Weight
	if r.Cap > 0 && p > r.Cap {
		p = r.Cap
	}
	return p
}

// LeadTables drive the cheap extraction-time filters and the 0–12 score.
type LeadTables struct {
	Domain        Rule
	Intent        Rule
	Buyer         Rule
	Question      Rule
	FirstPerson   Rule
	AgencyAuthor  Rule
	AgencyContent Rule
}

// FunnelTables drive the funnel confidence.
type FunnelTables struct {
	Intent     Rule
	Demand     Rule
	Urgency    Rule
	Competitor Rule
	Question   Rule
	Length     Rule
}

// Replies are the stage-keyed reply templates. {keyword} and {refs} are
// substituted by the funnel.
type Replies struct {
	FallbackTopic string
	Hot           string
	Warm          string
	Nurture       string
	Cold          string
	Refs          string
}

// For returns the template for stage.
func (r Replies) For(stage model.Stage) string {
	switch stage {
	case model.StageHot:
		return r.Hot
	case model.StageWarm:
		return r.Warm
	case model.StageNurture:
		return r.Nurture
	default:
		return r.Cold
	}
}

// Vertical bundles every table for one business vertical.
type Vertical struct {
	Name    string
	Lead    LeadTables
	Funnel  FunnelTables
	Replies Replies
}

// Set is a loaded rule file.
type Set struct {
	verticals map[string]*Vertical
}

// Vertical returns the named vertical, falling back to DefaultVertical. The
// returned name is the one actually used.
func (s *Set) Vertical(name string) (*Vertical, string) {
	key := textutil.Fold(name)
	if v, ok := s.verticals[key]; ok {
		return v, key
	}
	return s.verticals[DefaultVertical], DefaultVertical
}

// Names lists the loaded verticals.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.verticals))
	for k := range s.verticals {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type rawFile struct {
	Verticals map[string]rawVertical `yaml:"verticals"`
}

type rawVertical struct {
	Lead    map[string]Rule   `yaml:"lead"`
	Funnel  map[string]Rule   `yaml:"funnel"`
	Replies map[string]string `yaml:"replies"`
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Default returns the embedded rule set.
func Default() (*Set, error) {
	defaultOnce.Do(func() {
		var raw rawFile
		if err := yaml.Unmarshal(defaultsYAML, &raw); err != nil {
			defaultErr = eris.Wrap(err, "rules: parse embedded defaults")
			return
		}
		defaultSet, defaultErr = build(raw)
	})
	return defaultSet, defaultErr
}

// Load returns the embedded defaults merged with the file at path. An empty
// path returns the defaults unchanged.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	return Parse(data)
}

// Parse merges an operator rule document over the embedded defaults.
func Parse(data []byte) (*Set, error) {
	var base rawFile
	if err := yaml.Unmarshal(defaultsYAML, &base); err != nil {
		return nil, eris.Wrap(err, "rules: parse embedded defaults")
	}
	var over rawFile
	if err := yaml.Unmarshal(data, &over); err != nil {
		return nil, eris.Wrap(err, "rules: parse rule file")
	}

	for name, ov := range over.Verticals {
		key := textutil.Fold(name)
		bv := base.Verticals[key]
		if bv.Lead == nil {
			bv.Lead = map[string]Rule{}
		}
		if bv.Funnel == nil {
			bv.Funnel = map[string]Rule{}
		}
		if bv.Replies == nil {
			bv.Replies = map[string]string{}
		}
		for k, r := range ov.Lead {
			bv.Lead[k] = r
		}
		for k, r := range ov.Funnel {
			bv.Funnel[k] = r
		}
		for k, s := range ov.Replies {
			bv.Replies[k] = s
		}
		base.Verticals[key] = bv
	}
	return build(base)
}

func build(raw rawFile) (*Set, error) {
	s := &Set{verticals: make(map[string]*Vertical, len(raw.Verticals))}
	for name, rv := range raw.Verticals {
		v, err := buildVertical(textutil.Fold(name), rv)
		if err != nil {
			return nil, err
		}
		s.verticals[v.Name] = v
	}
	if _, ok := s.verticals[DefaultVertical]; !ok {
		return nil, eris.Errorf("rules: vertical %s is required", DefaultVertical)
	}
	return s, nil
}

func buildVertical(name string, rv rawVertical) (*Vertical, error) {
	v := &Vertical{Name: name}

	leadTables := map[string]*Rule{
		"domain":         &v.Lead.Domain,
		"intent":         &v.Lead.Intent,
		"buyer":          &v.Lead.Buyer,
		"question":       &v.Lead.Question,
		"first_person":   &v.Lead.FirstPerson,
		"agency_author":  &v.Lead.AgencyAuthor,
		"agency_content": &v.Lead.AgencyContent,
	}
	for k, r := range rv.Lead {
		dst, ok := leadTables[k]
		if !ok {
			return nil, eris.Errorf("rules: %s: unknown lead table %q", name, k)
		}
		*dst = r
	}

	funnelTables := map[string]*Rule{
		"intent":     &v.Funnel.Intent,
		"demand":     &v.Funnel.Demand,
		"urgency":    &v.Funnel.Urgency,
		"competitor": &v.Funnel.Competitor,
		"question":   &v.Funnel.Question,
		"length":     &v.Funnel.Length,
	}
	for k, r := range rv.Funnel {
		dst, ok := funnelTables[k]
		if !ok {
			return nil, eris.Errorf("rules: %s: unknown funnel table %q", name, k)
		}
		if r.Weight < 0 || r.Cap < 0 {
			return nil, eris.Errorf("rules: %s: funnel table %q has negative weight or cap", name, k)
		}
		*dst = r
	}

	for _, r := range leadTables {
		r.prepare()
	}
	for _, r := range funnelTables {
		r.prepare()
	}

	v.Replies = Replies{
		FallbackTopic: rv.Replies["fallback_topic"],
		Hot:           rv.Replies["hot"],
		Warm:          rv.Replies["warm"],
		Nurture:       rv.Replies["nurture"],
		Cold:          rv.Replies["cold"],
		Refs:          rv.Replies["refs"],
	}
	if v.Replies.FallbackTopic == "" {
		v.Replies.FallbackTopic = "your current question"
	}
	for stage, tmpl := range map[string]string{"hot": v.Replies.Hot, "warm": v.Replies.Warm, "nurture": v.Replies.Nurture, "cold": v.Replies.Cold} {
		if tmpl == "" {
			return nil, eris.Errorf("rules: %s: missing reply template for %s", name, stage)
		}
	}
	return v, nil
}
