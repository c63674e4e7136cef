package model

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Sort modes a search result page can be requested with.
const (
	SortHot    = "hot"
	SortLatest = "latest"
)

// LeadContentRunes bounds lead content and the content prefix used in the
// identity hash.
const LeadContentRunes = 420

// PostCandidate is one piece of remote content found for a keyword.
type PostCandidate struct {
	Platform         string   `json:"platform"`
	Keyword          string   `json:"keyword"`
	PostURL          string   `json:"post_url"`
	SourceURL        string   `json:"source_url"`
	SortModes        []string `json:"sort_modes"`
	CardText         string   `json:"card_text,omitempty"`
	AuthorHint       string   `json:"author_hint,omitempty"`
	AuthorURLHint    string   `json:"author_url_hint,omitempty"`
	CommentCountHint int      `json:"comment_count_hint"`
}

// AddSortMode adds mode to the candidate's sort set, keeping it sorted and
// free of duplicates. Empty modes are ignored.
func (c *PostCandidate) AddSortMode(mode string) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return
	}
	i := sort.SearchStrings(c.SortModes, mode)
	if i < len(c.SortModes) && c.SortModes[i] == mode {
		return
	}
	c.SortModes = append(c.SortModes, "")
	copy(c.SortModes[i+1:], c.SortModes[i:])
	c.SortModes[i] = mode
}

// SortLabel renders the sort set as "hot+latest", or "na" when empty.
func (c PostCandidate) SortLabel() string {
	if len(c.SortModes) == 0 {
		return "na"
	}
	return strings.Join(c.SortModes, "+")
}

// Comment is a raw comment as returned by the visit script.
type Comment struct {
	Author    string `json:"author"`
	AuthorURL string `json:"author_url"`
	Content   string `json:"content"`
}

// Read statuses recorded on PostRead.
const (
	ReadOK         = "ok"
	ReadNoComments = "no_comments_visible"
	ReadFailed     = "read_failed"
	ReadBlocked    = "blocked"
)

// PostRead is the outcome of visiting one PostCandidate.
type PostRead struct {
	Platform    string    `json:"platform"`
	Keyword     string    `json:"keyword"`
	PostURL     string    `json:"post_url"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Preview     string    `json:"preview"`
	Comments    []Comment `json:"comments"`
	Status      string    `json:"status"`
	BlockReason string    `json:"block_reason,omitempty"`
	ReadAt      time.Time `json:"read_at"`
}

// Failed reports whether the visit never produced a usable page.
func (r PostRead) Failed() bool {
	return strings.HasPrefix(r.Status, ReadFailed)
}

// Grade is the coarse bucket derived from the rule score.
type Grade string

// Grades from best to worst.
const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

// GradeFromScore maps a 0–12 rule score onto a grade.
func GradeFromScore(score int) Grade {
	switch {
	case score >= 9:
		return GradeS
	case score >= 7:
		return GradeA
	case score >= 5:
		return GradeB
	default:
		return GradeC
	}
}

// Stage is the funnel intent bucket.
type Stage string

// Funnel stages from hottest to coldest.
const (
	StageHot     Stage = "hot"
	StageWarm    Stage = "warm"
	StageNurture Stage = "nurture"
	StageCold    Stage = "cold"
)

// StageFromConfidence applies the inclusive lower bounds 85, 70 and 55.
func StageFromConfidence(confidence int) Stage {
	switch {
	case confidence >= 85:
		return StageHot
	case confidence >= 70:
		return StageWarm
	case confidence >= 55:
		return StageNurture
	default:
		return StageCold
	}
}

// Lead is a scored, filtered prospective buyer extracted from a visited post.
type Lead struct {
	Platform       string    `json:"platform"`
	Keyword        string    `json:"keyword"`
	PostURL        string    `json:"post_url"`
	SourceURL      string    `json:"source_url"`
	Author         string    `json:"author"`
	AuthorURL      string    `json:"author_url"`
	Content        string    `json:"content"`
	Score          int       `json:"score"`
	Grade          Grade     `json:"grade"`
	RuleConfidence int       `json:"rule_confidence"`
	Confidence     int       `json:"confidence"`
	Stage          Stage     `json:"stage"`
	FunnelReason   string    `json:"funnel_reason,omitempty"`
	MatchedTerms   []string  `json:"matched_terms,omitempty"`
	SuggestedReply string    `json:"suggested_reply,omitempty"`
	CollectedAt    time.Time `json:"collected_at"`
	AccessHint     string    `json:"access_hint"`
}

// Key is the lead identity: sha1 over platform, post URL, author and the
// first LeadContentRunes runes of content.
func (l Lead) Key() string {
	sum := sha1.Sum([]byte(l.Platform + "|" + l.PostURL + "|" + l.Author + "|" + TruncateRunes(l.Content, LeadContentRunes)))
	return hex.EncodeToString(sum[:])
}

// Link is the insert-or-ignore key used by downstream lead stores.
func (l Lead) Link() string {
	base := l.SourceURL
	if base == "" {
		base = l.PostURL
	}
	sum := sha1.Sum([]byte(l.PostURL + "|" + l.Author + "|" + l.Content))
	return base + "#oc" + hex.EncodeToString(sum[:])[:12]
}

// TruncateRunes returns at most n runes of s.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
