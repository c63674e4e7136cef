package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostCandidate_AddSortMode(t *testing.T) {
	t.Parallel()

	var c PostCandidate
	c.AddSortMode("latest")
	c.AddSortMode("hot")
	c.AddSortMode("LATEST")
	c.AddSortMode("")

	assert.Equal(t, []string{"hot", "latest"}, c.SortModes)
	assert.Equal(t, "hot+latest", c.SortLabel())
	assert.Equal(t, "na", PostCandidate{}.SortLabel())
}

func TestGradeFromScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  Grade
	}{
		{12, GradeS}, {9, GradeS}, {8, GradeA}, {7, GradeA},
		{6, GradeB}, {5, GradeB}, {4, GradeC}, {0, GradeC},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeFromScore(tt.score), "score %d", tt.score)
	}
}

func TestStageFromConfidence_Boundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		confidence int
		want       Stage
	}{
		{99, StageHot},
		{85, StageHot},
		{84, StageWarm},
		{70, StageWarm},
		{69, StageNurture},
		{55, StageNurture},
		{54, StageCold},
		{0, StageCold},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StageFromConfidence(tt.confidence), "confidence %d", tt.confidence)
	}
}

func TestLeadKey(t *testing.T) {
	t.Parallel()

	base := Lead{Platform: "xhs", PostURL: "https://x/1", Author: "amy", Content: "请问英国留学预算多少？"}
	same := base
	same.Score = 9
	same.Keyword = "other"
	assert.Equal(t, base.Key(), same.Key())

	other := base
	other.Author = "bob"
	assert.NotEqual(t, base.Key(), other.Key())

	long := base
	long.Content = strings.Repeat("留", LeadContentRunes) + "A"
	longer := base
	longer.Content = strings.Repeat("留", LeadContentRunes) + "B"
	assert.Equal(t, long.Key(), longer.Key(), "content beyond the prefix does not change identity")
}

func TestLeadLink(t *testing.T) {
	t.Parallel()

	l := Lead{PostURL: "https://x/1", SourceURL: "https://x/search?q=a", Author: "amy", Content: "hello world"}
	link := l.Link()
	assert.True(t, strings.HasPrefix(link, "https://x/search?q=a#oc"))
	assert.Len(t, strings.TrimPrefix(link, "https://x/search?q=a#oc"), 12)

	l.SourceURL = ""
	assert.True(t, strings.HasPrefix(l.Link(), "https://x/1#oc"))
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "留学", TruncateRunes("留学申请", 2))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestRunSummaryTally(t *testing.T) {
	t.Parallel()

	var s RunSummary
	s.Tally([]Lead{
		{Grade: GradeS, Stage: StageHot},
		{Grade: GradeS, Stage: StageWarm},
		{Grade: GradeB, Stage: StageCold},
	})
	assert.Equal(t, 3, s.LeadsTotal)
	assert.Equal(t, 2, s.Grades[GradeS])
	assert.Equal(t, 0, s.Grades[GradeA])
	assert.Equal(t, 1, s.Stages[StageCold])
	assert.Equal(t, 0, s.Stages[StageNurture])
}

func TestControlStats_CountDriverError(t *testing.T) {
	t.Parallel()

	var c ControlStats
	c.CountDriverError("timeout")
	c.CountDriverError("timeout")
	assert.Equal(t, 2, c.DriverErrors["timeout"])
}
