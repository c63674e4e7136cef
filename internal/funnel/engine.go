// Package funnel computes a deterministic intent confidence and stage for a
// lead and drafts a stage-keyed reply, optionally citing local documents.
package funnel

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/rules"
	"github.com/sells-group/leadscout/internal/textutil"
)

const (
	baseConfidence  = 28
	maxConfidence   = 99
	longContentMin  = 20
	maxMatchedTerms = 12
	refRunes        = 80
	refsRunes       = 140
	replyRunes      = 220
	refSeparator    = "；"
)

// Result is the funnel's verdict for one lead.
type Result struct {
	Confidence     int         `json:"confidence"`
	Stage          model.Stage `json:"stage"`
	Reason         string      `json:"reason"`
	MatchedTerms   []string    `json:"matched_terms"`
	SuggestedReply string      `json:"suggested_reply"`
}

// Engine scores leads for one vertical. It performs no I/O after
// construction.
type Engine struct {
	v      *rules.Vertical
	corpus *Corpus
	topK   int
}

// New creates an engine. corpus may be nil; topK below 1 means 2.
func New(v *rules.Vertical, corpus *Corpus, topK int) *Engine {
	if topK < 1 {
		topK = 2
	}
	return &Engine{v: v, corpus: corpus, topK: topK}
}

// Vertical is the name of the rule vertical in use.
func (e *Engine) Vertical() string { return e.v.Name }

// Evaluate scores one lead.
func (e *Engine) Evaluate(platform, keyword, author, content, preview string) Result {
	text := strings.TrimSpace(strings.Join([]string{platform, keyword, author, content, preview}, " "))
	folded := textutil.Fold(text)
	ft := &e.v.Funnel

	intent := ft.Intent.Hits(folded)
	demand := ft.Demand.Hits(folded)
	urgency := ft.Urgency.Hits(folded)
	competitor := ft.Competitor.Hits(folded)

	conf := baseConfidence +
		ft.Intent.Points(len(intent)) +
		ft.Demand.Points(len(demand)) +
		ft.Urgency.Points(len(urgency))
	if ft.Question.Any(folded) {
		conf += ft.Question.Points(1)
	}
	if textutil.RuneLen(strings.TrimSpace(content)) >= longContentMin {
		conf += ft.Length.Points(1)
	}
	conf -= ft.Competitor.Points(len(competitor))
	conf = min(max(conf, 0), maxConfidence)

	stage := model.StageFromConfidence(conf)

	matched := make([]string, 0, len(intent)+len(demand)+len(urgency))
	matched = append(matched, intent...)
	matched = append(matched, demand...)
	matched = append(matched, urgency...)
	if len(matched) > maxMatchedTerms {
		matched = matched[:maxMatchedTerms]
	}

	return Result{
		Confidence:     conf,
		Stage:          stage,
		Reason:         fmt.Sprintf("intent=%d, demand=%d, urgency=%d, competitor=%d", len(intent), len(demand), len(urgency), len(competitor)),
		MatchedTerms:   matched,
		SuggestedReply: e.reply(stage, keyword, text),
	}
}

func (e *Engine) reply(stage model.Stage, keyword, query string) string {
	r := e.v.Replies
	topic := strings.TrimSpace(keyword)
	if topic == "" {
		topic = r.FallbackTopic
	}
	out := strings.ReplaceAll(r.For(stage), "{keyword}", topic)

	if refs := e.refs(query); refs != "" && r.Refs != "" {
		out += strings.ReplaceAll(r.Refs, "{refs}", refs)
	}
	return textutil.Clip(out, replyRunes)
}

func (e *Engine) refs(query string) string {
	if e.corpus == nil {
		return ""
	}
	var parts []string
	for _, s := range e.corpus.Retrieve(query, e.topK) {
		if clean := textutil.NormalizeSpace(s.Text); clean != "" {
			parts = append(parts, textutil.Clip(clean, refRunes))
		}
	}
	return textutil.Clip(strings.Join(parts, refSeparator), refsRunes)
}

// Blend combines the rule-based and funnel confidences into the lead's
// final confidence: round(0.45·rule + 0.55·funnel), clamped to [0, 99].
func Blend(ruleConfidence, funnelConfidence int) int {
	v := int(math.Round(0.45*float64(ruleConfidence) + 0.55*float64(funnelConfidence)))
	return min(max(v, 0), maxConfidence)
}
