// Package extract turns evaluation payloads into canonical candidates and
// filtered, rule-scored leads.
package extract

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/platform"
	"github.com/sells-group/leadscout/internal/rules"
	"github.com/sells-group/leadscout/internal/textutil"
)

// Lead filter thresholds.
const (
	MinContentRunes  = 8
	MinScore         = 4
	MinScoreNoBuyer  = 6
	MaxRuleScore     = 12
	previewAuthor    = "post_author"
	cardTextRunes    = 260
	authorHintRunes  = 80
	defaultHintLabel = "openclaw_human_read"
)

var authorSuffixRes = []*regexp.Regexp{
	regexp.MustCompile(`\s+(19|20)\d{2}[-/.]\d{1,2}[-/.]\d{1,2}$`),
	regexp.MustCompile(`\s+\d+\s*(天前|days?\s+ago)$`),
	regexp.MustCompile(`\s+\d+\s*(小时前|hours?\s+ago)$`),
}

// CleanAuthor collapses whitespace and strips the trailing date or
// relative-age stamps that comment widgets append to display names.
func CleanAuthor(author string) string {
	a := textutil.NormalizeSpace(author)
	for _, re := range authorSuffixRes {
		a = strings.TrimSpace(re.ReplaceAllString(a, ""))
	}
	return a
}

// SearchPage is one decoded result page.
type SearchPage struct {
	SortMode  string
	SearchURL string
	Links     []RawLink
}

// Extractor applies one vertical's rule tables.
type Extractor struct {
	v      *rules.Vertical
	policy *bluemonday.Policy
	now    func() time.Time

	// HintLabel prefixes Lead.AccessHint, e.g. "openclaw_human_read".
	HintLabel string
}

// New creates an extractor over vertical v.
func New(v *rules.Vertical) *Extractor {
	return &Extractor{
		v:         v,
		policy:    bluemonday.StrictPolicy(),
		now:       time.Now,
		HintLabel: defaultHintLabel,
	}
}

// WithClock overrides the collected_at time source.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Candidates canonicalizes the links of every page and merges entries that
// share an identity key, unioning their sort modes. At most
// maxPosts × (number of sort modes) candidates are returned; links of
// already-kept candidates still merge after the cap is reached.
func (e *Extractor) Candidates(p *platform.Platform, keyword string, pages []SearchPage, maxPosts int) []model.PostCandidate {
	modes := map[string]struct{}{}
	for _, pg := range pages {
		modes[pg.SortMode] = struct{}{}
	}
	maxTotal := maxPosts * max(1, len(modes))

	var out []model.PostCandidate
	seen := map[string]int{}
	for _, pg := range pages {
		for _, l := range pg.Links {
			canonical, ok := p.Canonicalize(l.Href, pg.SearchURL)
			if !ok {
				continue
			}
			key := p.IdentityKey(canonical)
			if idx, dup := seen[key]; dup {
				out[idx].AddSortMode(pg.SortMode)
				continue
			}
			if len(out) >= maxTotal {
				continue
			}

			c := model.PostCandidate{
				Platform:         p.Name,
				Keyword:          keyword,
				PostURL:          canonical,
				SourceURL:        pg.SearchURL,
				CardText:         textutil.Clip(textutil.NormalizeSpace(l.Text), cardTextRunes),
				AuthorHint:       textutil.Clip(textutil.NormalizeSpace(l.Author), authorHintRunes),
				CommentCountHint: int(l.CommentCount),
			}
			if l.AuthorURL != "" {
				c.AuthorURLHint = p.Absolute(l.AuthorURL, canonical)
			}
			c.AddSortMode(pg.SortMode)
			seen[key] = len(out)
			out = append(out, c)
		}
	}
	return out
}

// Leads filters and scores the comments of one visited post. Filters run in
// order: short content, agency/competitor, low rule score, DM readiness.
func (e *Extractor) Leads(p *platform.Platform, cand model.PostCandidate, read model.PostRead) ([]model.Lead, model.FilterStats) {
	var stats model.FilterStats

	comments := read.Comments
	if len(comments) == 0 && read.Preview != "" && !p.RequireDMReady {
		author := cand.AuthorHint
		if author == "" {
			author = previewAuthor
		}
		comments = []model.Comment{{
			Author:    author,
			AuthorURL: cand.AuthorURLHint,
			Content:   textutil.Clip(read.Preview, model.LeadContentRunes),
		}}
	}

	base := read.URL
	if base == "" {
		base = cand.PostURL
	}

	var leads []model.Lead
	for _, c := range comments {
		author := CleanAuthor(c.Author)
		content := e.sanitize(c.Content)
		authorURL := textutil.NormalizeSpace(c.AuthorURL)
		if author == "" {
			author = CleanAuthor(cand.AuthorHint)
		}
		if author == "" {
			author = "unknown"
		}
		if authorURL == "" {
			authorURL = cand.AuthorURLHint
		}
		if strings.HasPrefix(authorURL, "/") {
			authorURL = p.Absolute(authorURL, base)
		}

		if textutil.RuneLen(content) < MinContentRunes {
			stats.Short++
			continue
		}
		if e.IsAgency(author, content) {
			stats.Agency++
			continue
		}
		score := e.Score(content)
		if score < MinScore || (score < MinScoreNoBuyer && !e.BuyerSignal(content)) {
			stats.LowScore++
			continue
		}
		if p.RequireDMReady && (textutil.IsUnknownAuthor(author) || !p.IsProfileURL(authorURL)) {
			stats.NotDMReady++
			continue
		}

		conf := ConfidenceFromScore(score)
		leads = append(leads, model.Lead{
			Platform:       p.Name,
			Keyword:        cand.Keyword,
			PostURL:        cand.PostURL,
			SourceURL:      cand.SourceURL,
			Author:         author,
			AuthorURL:      authorURL,
			Content:        textutil.Clip(content, model.LeadContentRunes),
			Score:          score,
			Grade:          model.GradeFromScore(score),
			RuleConfidence: conf,
			Confidence:     conf,
			Stage:          model.StageFromConfidence(conf),
			CollectedAt:    e.now().UTC(),
			AccessHint:     fmt.Sprintf("%s|%s|sort:%s", e.HintLabel, read.Status, cand.SortLabel()),
		})
	}
	return leads, stats
}

func (e *Extractor) sanitize(s string) string {
	return textutil.NormalizeSpace(html.UnescapeString(e.policy.Sanitize(s)))
}

// Score is the 0–12 rule score: weighted domain and intent hits plus the
// question bonus. Content under MinContentRunes scores zero.
func (e *Extractor) Score(content string) int {
	t := textutil.NormalizeSpace(content)
	if textutil.RuneLen(t) < MinContentRunes {
		return 0
	}
	folded := textutil.Fold(t)
	lt := &e.v.Lead
	score := lt.Domain.Points(len(lt.Domain.Hits(folded))) +
		lt.Intent.Points(len(lt.Intent.Hits(folded)))
	if lt.Question.Any(folded) {
		score += lt.Question.Weight
	}
	return min(max(score, 0), MaxRuleScore)
}

// BuyerSignal reports first-hand buying interest: a domain hit together
// with a buyer phrase or a question, or two buyer phrases in the first
// person.
func (e *Extractor) BuyerSignal(content string) bool {
	t := textutil.NormalizeSpace(content)
	if textutil.RuneLen(t) < MinContentRunes {
		return false
	}
	folded := textutil.Fold(t)
	lt := &e.v.Lead
	domain := len(lt.Domain.Hits(folded))
	buyer := len(lt.Buyer.Hits(folded))
	if domain >= 1 && (buyer >= 1 || lt.Question.Any(folded)) {
		return true
	}
	return buyer >= 2 && lt.FirstPerson.Any(folded+" ")
}

// IsAgency flags anonymous authors, agency-like names, and self-promotion.
func (e *Extractor) IsAgency(author, content string) bool {
	a := CleanAuthor(author)
	if textutil.IsUnknownAuthor(a) {
		return true
	}
	lt := &e.v.Lead
	return lt.AgencyAuthor.Any(textutil.Fold(a)) || lt.AgencyContent.Any(textutil.Fold(content))
}

// ConfidenceFromScore maps a rule score onto 42..99.
func ConfidenceFromScore(score int) int {
	return min(99, 42+6*score)
}
