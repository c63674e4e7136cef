package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/leadscout/internal/session"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// sleeper advances the fake clock instead of blocking.
func (c *fakeClock) sleeper() Sleeper {
	return func(_ context.Context, d time.Duration) error {
		c.Advance(d)
		return nil
	}
}

// fakeDriver serves canned evaluation replies. Search tabs are recognised
// by "/search" in their URL; post tabs are looked up by URL without query
// or fragment. Every call except Close costs callCost on the fake clock,
// or slowCost when the tab's host is slowHost.
type fakeDriver struct {
	clock    *fakeClock
	callCost time.Duration
	slowHost string
	slowCost time.Duration

	startErr error
	// search returns the raw links payload for a search URL.
	search func(searchURL string) (string, error)
	// posts maps a post URL (no query, no fragment) to its read payload.
	posts map[string]string
	// postErrs makes Evaluate fail for a post URL.
	postErrs map[string]error

	mu      sync.Mutex
	nextID  int
	tabs    map[string]string
	opened  []string
	closed  int
	evals   int
	started int
	stopped int
}

func newFakeDriver(clock *fakeClock) *fakeDriver {
	return &fakeDriver{
		clock:    clock,
		callCost: time.Second,
		posts:    map[string]string{},
		postErrs: map[string]error{},
		tabs:     map[string]string{},
		search: func(string) (string, error) {
			return `[]`, nil
		},
	}
}

func (f *fakeDriver) tick(tabURL string) {
	cost := f.callCost
	if f.slowHost != "" && strings.Contains(tabURL, f.slowHost) {
		cost = f.slowCost
	}
	f.clock.Advance(cost)
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeDriver) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeDriver) Open(_ context.Context, u string) (session.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick(u)
	f.nextID++
	id := fmt.Sprintf("T%d", f.nextID)
	f.tabs[id] = u
	f.opened = append(f.opened, u)
	return session.Target{ID: id, URL: u}, nil
}

func (f *fakeDriver) Close(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tabs, id)
	f.closed++
	return nil
}

func (f *fakeDriver) WaitLoad(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick(f.tabs[id])
	return nil
}

func (f *fakeDriver) Wait(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick(f.tabs[id])
	return nil
}

func (f *fakeDriver) Press(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick(f.tabs[id])
	return nil
}

func (f *fakeDriver) Evaluate(_ context.Context, id, _ string, _ time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tabURL := f.tabs[id]
	f.tick(tabURL)
	f.evals++

	if strings.Contains(tabURL, "/search") {
		out, err := f.search(tabURL)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(out), nil
	}
	key := stripURL(tabURL)
	if err := f.postErrs[key]; err != nil {
		return nil, err
	}
	if body, ok := f.posts[key]; ok {
		return json.RawMessage(body), nil
	}
	return json.RawMessage(`{}`), nil
}

// visited lists opened post URLs, search pages excluded.
func (f *fakeDriver) visited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.opened {
		if !strings.Contains(u, "/search") {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeDriver) openTabs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tabs)
}

func stripURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

var _ session.Driver = (*fakeDriver)(nil)
