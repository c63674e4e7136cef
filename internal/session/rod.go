package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RodConfig configures the in-process Chrome backend.
type RodConfig struct {
	// RemoteURL is the DevTools WebSocket of an existing Chrome. Empty
	// launches a local headless Chrome.
	RemoteURL string
	Headless  bool
}

// Rod drives Chrome directly over the DevTools protocol with stealth pages.
type Rod struct {
	cfg RodConfig
	log *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	pages   map[string]*rod.Page
}

// NewRod creates the in-process driver. Call Start before use.
func NewRod(cfg RodConfig) *Rod {
	return &Rod{
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "session"), zap.String("backend", "rod")),
		pages: make(map[string]*rod.Page),
	}
}

// Name implements Driver.
func (r *Rod) Name() string { return "rod" }

// Start implements Driver.
func (r *Rod) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(r.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return r.fail("start", err)
		}
		wsURL = u
		r.lnch = l
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return r.fail("start", err)
	}
	// Keep the browser usable after the start context ends.
	r.browser = b.Context(context.Background())
	r.log.Info("browser connected", zap.Bool("remote", r.cfg.RemoteURL != ""))
	return nil
}

// Open implements Driver.
func (r *Rod) Open(ctx context.Context, url string) (Target, error) {
	r.mu.Lock()
	b := r.browser
	r.mu.Unlock()
	if b == nil {
		return Target{}, newDriverError("open", KindGatewayUnavailable, "", eris.New("browser not started"))
	}

	page, err := stealth.Page(b)
	if err != nil {
		return Target{}, r.fail("open", err)
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		_ = page.Close()
		return Target{}, r.fail("open", err)
	}

	id := string(page.TargetID)
	r.mu.Lock()
	r.pages[id] = page
	r.mu.Unlock()
	return Target{ID: id, URL: url}, nil
}

// Close implements Driver.
func (r *Rod) Close(_ context.Context, targetID string) error {
	r.mu.Lock()
	page, ok := r.pages[targetID]
	delete(r.pages, targetID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := page.Close(); err != nil {
		return r.fail("close", err)
	}
	return nil
}

// WaitLoad implements Driver.
func (r *Rod) WaitLoad(ctx context.Context, targetID string, timeout time.Duration) error {
	page, err := r.page("wait_load", targetID)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.Context(wctx).WaitLoad(); err != nil {
		return r.fail("wait_load", err)
	}
	return nil
}

// Wait implements Driver.
func (r *Rod) Wait(ctx context.Context, targetID string, d time.Duration) error {
	if _, err := r.page("wait", targetID); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return r.fail("wait", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Press implements Driver.
func (r *Rod) Press(ctx context.Context, targetID, key string) error {
	page, err := r.page("press", targetID)
	if err != nil {
		return err
	}
	k, ok := keyNames[strings.ToLower(key)]
	if !ok {
		return newDriverError("press", KindCommandFailed, "", eris.Errorf("unsupported key %q", key))
	}
	if err := page.Context(ctx).Keyboard.Type(k); err != nil {
		return r.fail("press", err)
	}
	return nil
}

// Evaluate implements Driver.
func (r *Rod) Evaluate(ctx context.Context, targetID, script string, timeout time.Duration) (json.RawMessage, error) {
	page, err := r.page("evaluate", targetID)
	if err != nil {
		return nil, err
	}
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := page.Context(ectx).Eval(script)
	if err != nil {
		return nil, r.fail("evaluate", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil || !json.Valid(raw) {
		return nil, newDriverError("evaluate", KindMalformedReply, string(raw), err)
	}
	return raw, nil
}

// Shutdown implements Driver.
func (r *Rod) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, p := range r.pages {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.pages, id)
	}
	if r.browser != nil {
		if err := r.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Kill()
		r.lnch = nil
	}
	if firstErr != nil {
		return eris.Wrap(firstErr, "session: rod shutdown")
	}
	return nil
}

func (r *Rod) page(op, targetID string) (*rod.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[targetID]
	if !ok {
		return nil, newDriverError(op, KindCommandFailed, "", eris.Errorf("unknown target %s", targetID))
	}
	return p, nil
}

func (r *Rod) fail(op string, err error) *DriverError {
	kind := KindCommandFailed
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	de := newDriverError(op, kind, "", err)
	de.Attempts = 1
	return de
}

var keyNames = map[string]input.Key{
	"pagedown":   input.PageDown,
	"pageup":     input.PageUp,
	"end":        input.End,
	"home":       input.Home,
	"enter":      input.Enter,
	"escape":     input.Escape,
	"space":      input.Space,
	"arrowdown":  input.ArrowDown,
	"arrowup":    input.ArrowUp,
	"tab":        input.Tab,
	"backspace":  input.Backspace,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
}
