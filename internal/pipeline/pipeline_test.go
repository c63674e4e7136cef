package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/access"
	"github.com/sells-group/leadscout/internal/artifact"
	"github.com/sells-group/leadscout/internal/extract"
	"github.com/sells-group/leadscout/internal/funnel"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/platform"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/internal/rules"
	"github.com/sells-group/leadscout/internal/session"
	"github.com/sells-group/leadscout/internal/store"
)

const (
	buyerComment  = "我想申请英国留学硕士，预算有限，请问有没有推荐的选校方法？"
	buyerComment2 = "我在纠结香港还是新加坡的硕士申请，请问怎么选比较好？"
)

func testPlatforms() []platform.Platform {
	return []platform.Platform{
		{
			Name:           "siteA",
			SearchURL:      "https://site-a.example/search?q={q}",
			Host:           "https://site-a.example",
			PostMarkers:    []string{"/post/"},
			ProfileMarkers: []string{"/u/"},
			SortModes:      []string{model.SortHot, model.SortLatest},
			SortFragment:   true,
		},
		{
			Name:        "siteB",
			SearchURL:   "https://site-b.example/search?q={q}",
			Host:        "https://site-b.example",
			PostMarkers: []string{"/post/"},
		},
	}
}

func studyAbroad(t *testing.T) *rules.Vertical {
	t.Helper()
	set, err := rules.Default()
	require.NoError(t, err)
	v, _ := set.Vertical("study_abroad")
	return v
}

type harness struct {
	clock  *fakeClock
	driver *fakeDriver
	access *access.Controller
	funnel *funnel.Engine
	store  store.LeadStore
	dir    string
	opts   Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	return &harness{
		clock:  clock,
		driver: newFakeDriver(clock),
		access: access.New(access.NewMemoryStore(), access.Config{}).WithClock(clock.Now),
		dir:    t.TempDir(),
		opts: Options{
			Platforms:          []string{"sitea"},
			Keywords:           []string{"study abroad"},
			MaxPostsPerKeyword: 2,
			MaxCommentsPerPost: 10,
			PlatformTimeout:    10 * time.Minute,
			GlobalTimeout:      time.Hour,
			ScrollRounds:       1,
		},
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	reg, err := platform.NewRegistry(testPlatforms()...)
	require.NoError(t, err)
	deps := Deps{
		Registry:  reg,
		Driver:    h.driver,
		Extractor: extract.New(studyAbroad(t)).WithClock(h.clock.Now),
		Access:    h.access,
		Funnel:    h.funnel,
		Writer:    artifact.New(h.dir, 0).WithClock(h.clock.Now),
		Store:     h.store,
	}
	return New(deps, h.opts).WithClock(h.clock.Now).WithSleeper(h.clock.sleeper()).WithSeed(1)
}

func readPayload(t *testing.T, title string, comments ...model.Comment) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"title":    title,
		"preview":  "分享一下我的申请经历",
		"comments": comments,
	})
	require.NoError(t, err)
	return string(data)
}

func links(hrefs ...string) string {
	out := make([]map[string]string, 0, len(hrefs))
	for _, h := range hrefs {
		out = append(out, map[string]string{"href": h})
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func states(ss []State) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func TestRun_StudyAbroadScenario(t *testing.T) {
	h := newHarness(t)
	h.funnel = funnel.New(studyAbroad(t), nil, 0)
	h.opts.MinConfidence = 58
	h.driver.search = func(u string) (string, error) {
		switch {
		case strings.HasSuffix(u, "#sort=hot"):
			return links("/post/1?utm_source=feed"), nil
		case strings.HasSuffix(u, "#sort=latest"):
			return links("https://site-a.example/post/1#comments"), nil
		}
		return `[]`, nil
	}
	h.driver.posts["https://site-a.example/post/1"] = readPayload(t, "留学经验",
		model.Comment{Author: "小林", AuthorURL: "/u/lin", Content: buyerComment})

	res, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Posts, 1)
	assert.Equal(t, "https://site-a.example/post/1", res.Posts[0].PostURL)
	assert.Equal(t, []string{"hot", "latest"}, res.Posts[0].SortModes)
	assert.Equal(t, []string{"https://site-a.example/post/1"}, h.driver.visited())

	require.Len(t, res.Leads, 1)
	l := res.Leads[0]
	assert.GreaterOrEqual(t, l.Confidence, 55)
	assert.NotEqual(t, model.StageCold, l.Stage)
	assert.Equal(t, 99, l.RuleConfidence)
	assert.Equal(t, "https://site-a.example/u/lin", l.AuthorURL)
	assert.NotEmpty(t, l.FunnelReason)
	assert.NotEmpty(t, l.SuggestedReply)
	assert.Contains(t, l.AccessHint, "sort:hot+latest")
	assert.Contains(t, l.AccessHint, "|funnel:"+string(l.Stage))

	s := res.Summary
	assert.Equal(t, 1, s.PostsFound)
	assert.Equal(t, 1, s.PostsRead)
	assert.Equal(t, 1, s.LeadsTotal)
	assert.Equal(t, []string{"init", "running", "finalize", "done"}, s.States)
	assert.Equal(t, s.States, states(res.States))
	assert.Empty(t, s.TimedOutPlatforms)

	assert.Zero(t, h.driver.openTabs(), "every tab closed")
	assert.Equal(t, 1, h.driver.started)
	assert.Equal(t, 1, h.driver.stopped)
	assert.FileExists(t, res.Paths.LeadsJSON)
	assert.FileExists(t, filepath.Join(h.dir, "leadscout_leads_latest.json"))
}

func TestRun_BudgetRespectedWithSlowDriver(t *testing.T) {
	h := newHarness(t)
	h.driver.callCost = 30 * time.Second
	h.opts.GlobalTimeout = 120 * time.Second
	h.opts.Keywords = []string{"k1", "k2", "k3", "k4", "k5"}
	h.driver.search = func(string) (string, error) {
		return links("/post/1", "/post/2"), nil
	}

	res, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	s := res.Summary
	elapsed := s.FinishedAt.Sub(s.StartedAt)
	assert.LessOrEqual(t, elapsed, 120*time.Second+30*time.Second)
	assert.True(t, s.Control.GlobalTimeout)
	assert.Equal(t, 1, s.Control.SkippedGlobalTimeout)
	assert.Contains(t, s.States, "global_timeout")
	assert.Equal(t, "done", s.States[len(s.States)-1])
	assert.Zero(t, h.driver.openTabs())
}

func TestRun_PlatformTimeoutMovesToNextPlatform(t *testing.T) {
	h := newHarness(t)
	h.opts.Platforms = []string{"sitea", "siteb"}
	h.opts.Keywords = []string{"k1", "k2"}
	h.opts.PlatformTimeout = 60 * time.Second
	h.driver.slowHost = "site-a.example"
	h.driver.slowCost = 30 * time.Second

	res, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	c := res.Summary.Control
	assert.Equal(t, []string{"sitea"}, res.Summary.TimedOutPlatforms)
	assert.Equal(t, 1, c.SkippedPlatformTimeout)
	assert.Equal(t, 1, c.PlatformTimeouts)
	assert.False(t, c.GlobalTimeout)
	assert.Contains(t, res.Summary.States, "platform_timeout")

	siteB := 0
	for _, u := range h.driver.opened {
		if strings.HasPrefix(u, "https://site-b.example/search") {
			siteB++
		}
	}
	assert.Equal(t, 2, siteB, "both keywords searched on the next platform")
}

func TestRun_SecondPassRespectsCooldownAndKeepsLatest(t *testing.T) {
	h := newHarness(t)
	h.opts.Platforms = []string{"siteb"}
	h.driver.search = func(string) (string, error) { return links("/post/1"), nil }
	h.driver.posts["https://site-b.example/post/1"] = readPayload(t, "留学",
		model.Comment{Author: "小林", Content: buyerComment})

	first, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Leads, 1)

	latest := filepath.Join(h.dir, "leadscout_leads_latest.json")
	before, err := os.ReadFile(latest)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, second.Summary.Control.SkippedVideoCooldown)
	assert.Zero(t, second.Summary.LeadsTotal)
	assert.Len(t, h.driver.visited(), 1, "post not revisited inside its cooldown")
	assert.Empty(t, second.Paths.Latest)

	after, err := os.ReadFile(latest)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_UserCooldownWithinRun(t *testing.T) {
	h := newHarness(t)
	h.opts.Platforms = []string{"siteb"}
	h.driver.search = func(string) (string, error) { return links("/post/1", "/post/2"), nil }
	h.driver.posts["https://site-b.example/post/1"] = readPayload(t, "留学",
		model.Comment{Author: "小林", Content: buyerComment})
	h.driver.posts["https://site-b.example/post/2"] = readPayload(t, "留学",
		model.Comment{Author: "小林", Content: buyerComment2})

	res, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Leads, 1)
	assert.Equal(t, 1, res.Summary.Control.SkippedUserCooldown)
	assert.Equal(t, 2, res.Summary.PostsRead)
}

func TestRun_FailedBlockedAndNoisePages(t *testing.T) {
	h := newHarness(t)
	h.opts.Platforms = []string{"siteb"}
	h.opts.MaxPostsPerKeyword = 3
	h.driver.search = func(string) (string, error) {
		return links("/post/1", "/post/2", "/post/3"), nil
	}
	h.driver.postErrs["https://site-b.example/post/1"] = &session.DriverError{
		Op: "evaluate", Kind: session.KindTimeout, Attempts: 2, Err: errors.New("deadline"),
	}
	h.driver.posts["https://site-b.example/post/2"] = `{"title":"页面不见了","comments":[]}`

	res, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	c := res.Summary.Control
	assert.Equal(t, 1, c.ReadFailures)
	assert.Equal(t, 1, c.DriverErrors["timeout"])
	assert.Equal(t, 1, c.BlockedPages)
	assert.Equal(t, 1, c.NoisePages)
	assert.Equal(t, 3, res.Summary.PostsRead)
	assert.Empty(t, res.Leads)

	require.Len(t, res.Reads, 3)
	assert.Equal(t, "read_failed:timeout", res.Reads[0].Status)
	assert.Equal(t, model.ReadBlocked, res.Reads[1].Status)
	assert.Equal(t, string(extract.BlockNotFound), res.Reads[1].BlockReason)
	assert.Equal(t, string(extract.BlockNoise), res.Reads[2].BlockReason)

	ctx := context.Background()
	d, err := h.access.ShouldVisitVideo(ctx, "siteb", "https://site-b.example/post/1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "failed read leaves no video touch")
	d, err = h.access.ShouldVisitVideo(ctx, "siteb", "https://site-b.example/post/2")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRun_BreakerPausesFailingPlatform(t *testing.T) {
	h := newHarness(t)
	h.opts.Platforms = []string{"siteb"}
	h.opts.Keywords = []string{"k1", "k2", "k3", "k4"}
	h.opts.BreakerFailures = 2
	h.opts.BreakerCoolOff = time.Hour
	h.driver.search = func(string) (string, error) {
		return "", &session.DriverError{Op: "evaluate", Kind: session.KindGatewayUnavailable, Attempts: 3}
	}

	o := h.orchestrator(t)
	res, err := o.Run(context.Background())
	require.NoError(t, err)

	c := res.Summary.Control
	assert.Equal(t, 2, c.SearchFailures)
	assert.Equal(t, 2, c.SkippedCircuitOpen)
	assert.Equal(t, 2, c.DriverErrors["gateway_unavailable"])
	assert.Equal(t, resilience.CircuitOpen, o.Breakers().Get("siteb").State())
}

func TestRun_DedupsIdenticalComments(t *testing.T) {
	h := newHarness(t)
	h.access = access.Disabled()
	h.opts.Platforms = []string{"siteb"}
	h.driver.search = func(string) (string, error) { return links("/post/1"), nil }
	c := model.Comment{Author: "小林", Content: buyerComment}
	h.driver.posts["https://site-b.example/post/1"] = readPayload(t, "留学", c, c)

	res, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.LeadsRaw)
	assert.Equal(t, 1, res.Summary.LeadsTotal)
	require.Len(t, res.Leads, 1)
}

func TestRun_MinConfidenceFilter(t *testing.T) {
	h := newHarness(t)
	h.funnel = funnel.New(studyAbroad(t), nil, 0)
	h.opts.MinConfidence = 100
	h.opts.Platforms = []string{"siteb"}
	h.driver.search = func(string) (string, error) { return links("/post/1"), nil }
	h.driver.posts["https://site-b.example/post/1"] = readPayload(t, "留学",
		model.Comment{Author: "小林", Content: buyerComment})

	res, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.Leads)
	assert.Equal(t, 1, res.Summary.Control.Filtered.LowConfidence)
	assert.Zero(t, res.Summary.Control.SkippedUserCooldown)
}

func TestRun_StoresLeadsAndRun(t *testing.T) {
	h := newHarness(t)
	st, err := store.NewSQLite(filepath.Join(h.dir, "db", "leads.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	h.store = st

	h.opts.Platforms = []string{"siteb"}
	h.driver.search = func(string) (string, error) { return links("/post/1"), nil }
	h.driver.posts["https://site-b.example/post/1"] = readPayload(t, "留学",
		model.Comment{Author: "小林", Content: buyerComment})

	res, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.LeadsInserted)

	runs, err := st.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.Summary.RunID, runs[0].ID)
	assert.Equal(t, 1, runs[0].LeadsInserted)
}

func TestRun_StartFailure(t *testing.T) {
	h := newHarness(t)
	h.driver.startErr = errors.New("gateway down")

	res, err := h.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)

	var se *StartError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "fake", se.Backend)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_PersistenceFailureSurfaced(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(h.dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	h.dir = filepath.Join(file, "out")

	res, err := h.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)

	var pe *artifact.PersistenceError
	assert.True(t, errors.As(err, &pe))
	assert.NotContains(t, states(res.States), "done")
}
