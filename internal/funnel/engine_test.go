package funnel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/rules"
)

func studyAbroad(t *testing.T) *rules.Vertical {
	t.Helper()
	set, err := rules.Default()
	require.NoError(t, err)
	v, name := set.Vertical("study_abroad")
	require.Equal(t, "study_abroad", name)
	return v
}

// weighted builds a vertical whose only scoring term is "alpha".
func weighted(weight int) *rules.Vertical {
	return &rules.Vertical{
		Name: "test",
		Funnel: rules.FunnelTables{
			Intent: rules.Rule{Terms: []string{"alpha"}, Weight: weight},
		},
		Replies: rules.Replies{
			FallbackTopic: "topic",
			Hot:           "hot {keyword}",
			Warm:          "warm {keyword}",
			Nurture:       "nurture {keyword}",
			Cold:          "cold {keyword}",
		},
	}
}

func TestEvaluate_StageBoundaries(t *testing.T) {
	tests := []struct {
		weight int
		conf   int
		stage  model.Stage
	}{
		{57, 85, model.StageHot},
		{56, 84, model.StageWarm},
		{42, 70, model.StageWarm},
		{41, 69, model.StageNurture},
		{27, 55, model.StageNurture},
		{26, 54, model.StageCold},
	}
	for _, tt := range tests {
		e := New(weighted(tt.weight), nil, 0)
		r := e.Evaluate("p", "", "", "alpha", "")
		assert.Equal(t, tt.conf, r.Confidence, "weight %d", tt.weight)
		assert.Equal(t, tt.stage, r.Stage, "weight %d", tt.weight)
		assert.Equal(t, string(tt.stage)+" topic", r.SuggestedReply)
	}
}

func TestEvaluate_StudyAbroadQuestion(t *testing.T) {
	e := New(studyAbroad(t), nil, 2)
	r := e.Evaluate("xhs", "英国留学", "小王", "请问英国留学申请文书怎么准备？预算有限，本周就要交", "")

	// 28 + intent 4×10 + demand 7 + urgency 8 + question 6 + length 4
	assert.Equal(t, 93, r.Confidence)
	assert.Equal(t, model.StageHot, r.Stage)
	assert.Equal(t, "intent=4, demand=1, urgency=1, competitor=0", r.Reason)
	assert.Equal(t, []string{"留学", "申请", "文书", "预算", "请问", "本周"}, r.MatchedTerms)
	assert.True(t, strings.HasPrefix(r.SuggestedReply, "看到你在关注‘英国留学’"))
	assert.NotContains(t, r.SuggestedReply, "可参考")
}

func TestEvaluate_EnglishQuestionReachesNurture(t *testing.T) {
	e := New(studyAbroad(t), nil, 2)
	r := e.Evaluate("reddit", "study abroad", "sam", "Any advice on study abroad visa budget?", "")
	assert.GreaterOrEqual(t, r.Confidence, 55)
	assert.NotEqual(t, model.StageCold, r.Stage)
}

func TestEvaluate_CompetitorPenaltyCapped(t *testing.T) {
	e := New(studyAbroad(t), nil, 2)
	r := e.Evaluate("xhs", "留学", "某机构", "私信我，留学套餐保录", "")

	// 28 + intent 10 - min(30, competitor hits×12)
	assert.Equal(t, 8, r.Confidence)
	assert.Equal(t, model.StageCold, r.Stage)
	assert.Contains(t, r.Reason, "competitor=4")
}

func TestEvaluate_ClampsToRange(t *testing.T) {
	v := weighted(200)
	r := New(v, nil, 0).Evaluate("p", "", "", "alpha", "")
	assert.Equal(t, 99, r.Confidence)

	v = weighted(0)
	v.Funnel.Competitor = rules.Rule{Terms: []string{"rival"}, Weight: 50}
	r = New(v, nil, 0).Evaluate("p", "", "", "rival", "")
	assert.Equal(t, 0, r.Confidence)
}

func TestEvaluate_MatchedTermsBounded(t *testing.T) {
	terms := []string{"t01", "t02", "t03", "t04", "t05", "t06", "t07", "t08", "t09", "t10", "t11", "t12", "t13", "t14"}
	v := weighted(1)
	v.Funnel.Intent = rules.Rule{Terms: terms, Weight: 1}
	r := New(v, nil, 0).Evaluate("p", "", "", strings.Join(terms, " "), "")
	assert.Len(t, r.MatchedTerms, 12)
	assert.Equal(t, "t01", r.MatchedTerms[0])
}

func TestEvaluate_Deterministic(t *testing.T) {
	c := &Corpus{}
	c.Add("guide.md", "英国留学 文书 指南：先定选校再写文书")
	e := New(studyAbroad(t), c, 2)

	first := e.Evaluate("xhs", "英国留学", "a", "英国留学 文书怎么写？", "preview")
	for range 5 {
		assert.Equal(t, first, e.Evaluate("xhs", "英国留学", "a", "英国留学 文书怎么写？", "preview"))
	}
}

func TestEvaluate_ReplyCitesCorpus(t *testing.T) {
	c := &Corpus{}
	c.Add("guide.md", "英国留学 文书 指南：先定选校再写文书")
	c.Add("other.md", "unrelated gardening notes")
	e := New(studyAbroad(t), c, 2)

	r := e.Evaluate("xhs", "英国留学", "a", "英国留学 文书怎么写？", "")
	assert.Contains(t, r.SuggestedReply, " 可参考：英国留学 文书 指南")
	assert.NotContains(t, r.SuggestedReply, "gardening")
	assert.LessOrEqual(t, len([]rune(r.SuggestedReply)), replyRunes)
}

func TestEvaluate_EmptyKeywordUsesFallbackTopic(t *testing.T) {
	e := New(studyAbroad(t), nil, 2)
	r := e.Evaluate("xhs", "", "a", "随便聊聊", "")
	assert.Contains(t, r.SuggestedReply, "‘当前问题’")
}

func TestBlend(t *testing.T) {
	assert.Equal(t, 71, Blend(60, 80))
	assert.Equal(t, 51, Blend(50, 51))
	assert.Equal(t, 0, Blend(0, 0))
	assert.Equal(t, 99, Blend(99, 99))
	assert.Equal(t, 99, Blend(120, 120))
	assert.Equal(t, 0, Blend(-40, -40))
}
