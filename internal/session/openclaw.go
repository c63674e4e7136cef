package session

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os/exec"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/resilience"
)

// OpenClawConfig configures the openclaw CLI backend.
type OpenClawConfig struct {
	Profile    string
	ConfigPath string
	// GatewayRestarts bounds backend restarts per call. Default: 1.
	GatewayRestarts int
	// Backoff is the base retry policy; MaxAttempts and AttemptTimeout are
	// overridden per verb.
	Backoff resilience.RetryConfig
}

// verb describes the timeout and attempt budget of one CLI verb.
type verb struct {
	name     string
	timeout  time.Duration
	attempts int
	json     bool
}

// OpenClaw drives the openclaw CLI, one subprocess per call.
type OpenClaw struct {
	cfg    OpenClawConfig
	runner Runner
	log    *zap.Logger
}

// NewOpenClaw creates the subprocess-backed driver.
func NewOpenClaw(cfg OpenClawConfig, runner Runner) *OpenClaw {
	if cfg.Profile == "" {
		cfg.Profile = "openclaw"
	}
	if cfg.GatewayRestarts <= 0 {
		cfg.GatewayRestarts = 1
	}
	if cfg.Backoff.InitialBackoff <= 0 {
		cfg.Backoff = resilience.DefaultRetryConfig()
	}
	return &OpenClaw{
		cfg:    cfg,
		runner: runner,
		log:    zap.L().With(zap.String("component", "session"), zap.String("backend", "openclaw")),
	}
}

// Name implements Driver.
func (c *OpenClaw) Name() string { return "openclaw" }

// Start implements Driver.
func (c *OpenClaw) Start(ctx context.Context) error {
	_, err := c.call(ctx, verb{name: "start", timeout: 80 * time.Second, attempts: 3, json: true}, []string{"start"})
	return err
}

// Open implements Driver.
func (c *OpenClaw) Open(ctx context.Context, url string) (Target, error) {
	raw, err := c.call(ctx, verb{name: "open", timeout: 90 * time.Second, attempts: 3, json: true}, []string{"open", url})
	if err != nil {
		return Target{}, err
	}
	var t Target
	if err := json.Unmarshal(raw, &t); err != nil || t.ID == "" {
		return Target{}, &DriverError{Op: "open", Kind: KindMalformedReply, Attempts: 1, Output: string(raw), Err: err}
	}
	return t, nil
}

// Close implements Driver.
func (c *OpenClaw) Close(ctx context.Context, targetID string) error {
	_, err := c.call(ctx, verb{name: "close", timeout: 45 * time.Second, attempts: 2}, []string{"close", targetID})
	return err
}

// WaitLoad implements Driver.
func (c *OpenClaw) WaitLoad(ctx context.Context, targetID string, timeout time.Duration) error {
	ms := timeout.Milliseconds()
	v := verb{name: "wait_load", timeout: maxDuration(75*time.Second, timeout+20*time.Second), attempts: 2}
	_, err := c.call(ctx, v, []string{"wait", "--target-id", targetID, "--load", "domcontentloaded", "--timeout-ms", strconv.FormatInt(ms, 10)})
	return err
}

// Wait implements Driver.
func (c *OpenClaw) Wait(ctx context.Context, targetID string, d time.Duration) error {
	ms := d.Milliseconds()
	v := verb{name: "wait", timeout: maxDuration(65*time.Second, d+20*time.Second), attempts: 2}
	_, err := c.call(ctx, v, []string{"wait", "--target-id", targetID, "--time", strconv.FormatInt(ms, 10), "--timeout-ms", strconv.FormatInt(ms+8000, 10)})
	return err
}

// Press implements Driver.
func (c *OpenClaw) Press(ctx context.Context, targetID, key string) error {
	_, err := c.call(ctx, verb{name: "press", timeout: 45 * time.Second, attempts: 2}, []string{"press", key, "--target-id", targetID})
	return err
}

// Evaluate implements Driver.
func (c *OpenClaw) Evaluate(ctx context.Context, targetID, script string, timeout time.Duration) (json.RawMessage, error) {
	v := verb{name: "evaluate", timeout: maxDuration(90*time.Second, timeout), attempts: 2, json: true}
	raw, err := c.call(ctx, v, []string{"evaluate", "--target-id", targetID, "--fn", script})
	if err != nil {
		return nil, err
	}
	return unwrapResult(raw), nil
}

// Shutdown implements Driver. The gateway outlives the run, so there is
// nothing to release.
func (c *OpenClaw) Shutdown(context.Context) error { return nil }

// call runs one verb under its retry budget. A gateway failure triggers a
// backend restart and a fresh budget, at most GatewayRestarts times.
func (c *OpenClaw) call(ctx context.Context, v verb, args []string) (json.RawMessage, error) {
	restartsLeft := c.cfg.GatewayRestarts
	totalAttempts := 0

	for {
		rc := c.cfg.Backoff
		rc.MaxAttempts = v.attempts
		rc.AttemptTimeout = v.timeout
		rc.ShouldRetry = retryable
		rc.OnRetry = resilience.RetryLogger("session", v.name)

		raw, attempts, err := resilience.DoVal(ctx, rc, func(actx context.Context) (json.RawMessage, error) {
			return c.invoke(actx, v, args)
		})
		totalAttempts += attempts
		if err == nil {
			return raw, nil
		}

		var de *DriverError
		if !errors.As(err, &de) {
			de = newDriverError(v.name, KindCommandFailed, "", err)
		}
		de.Attempts = totalAttempts

		if de.Kind == KindGatewayUnavailable && restartsLeft > 0 && ctx.Err() == nil {
			restartsLeft--
			c.log.Warn("gateway unavailable, restarting", zap.String("op", v.name))
			if rerr := c.restartGateway(ctx); rerr != nil {
				c.log.Warn("gateway restart failed", zap.String("op", v.name), zap.Error(rerr))
			}
			continue
		}
		return nil, de
	}
}

func retryable(err error) bool {
	switch KindOf(err) {
	case KindGatewayUnavailable:
		return false
	case KindTimeout, KindMalformedReply:
		return true
	case KindCommandFailed:
		return resilience.IsTransient(err) || !launchFailed(err)
	}
	return resilience.IsTransient(err)
}

// launchFailed reports a CLI that could not be started at all. Another
// attempt would fail the same way.
func launchFailed(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

// invoke runs the CLI once and classifies the result.
func (c *OpenClaw) invoke(ctx context.Context, v verb, args []string) (json.RawMessage, error) {
	argv := []string{"--no-color", "--log-level", "error", "browser", "--browser-profile", c.cfg.Profile}
	if v.json {
		argv = append(argv, "--json")
	}
	argv = append(argv, args...)

	out, err := c.runner.Run(ctx, argv, c.env())
	combined := StripANSI(out.Combined())

	if isGatewayDown(combined) {
		return nil, newDriverError(v.name, KindGatewayUnavailable, combined, nil)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newDriverError(v.name, KindTimeout, combined, err)
		}
		if resilience.IsTransient(err) || resilience.TransientOutput(combined) {
			err = resilience.NewTransientError(err)
		}
		return nil, newDriverError(v.name, KindCommandFailed, combined, err)
	}

	if v.json {
		raw, jerr := ExtractJSON(combined)
		if jerr != nil {
			return nil, newDriverError(v.name, KindMalformedReply, combined, jerr)
		}
		return raw, nil
	}

	if out.ExitCode == 0 || looksSuccessful(combined) {
		return nil, nil
	}
	cause := eris.Errorf("exit status %d", out.ExitCode)
	// A negative exit code means the process was killed by a signal.
	if out.ExitCode < 0 || resilience.TransientOutput(combined) {
		return nil, newDriverError(v.name, KindCommandFailed, combined, resilience.NewTransientError(cause))
	}
	return nil, newDriverError(v.name, KindCommandFailed, combined, cause)
}

func (c *OpenClaw) restartGateway(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	out, err := c.runner.Run(rctx, []string{"--no-color", "--log-level", "error", "gateway", "start"}, c.env())
	if err != nil {
		return eris.Wrap(err, "session: gateway start")
	}
	if out.ExitCode != 0 {
		return eris.Errorf("session: gateway start exit %d: %s", out.ExitCode, StripANSI(out.Combined()))
	}
	return nil
}

func (c *OpenClaw) env() []string {
	if c.cfg.ConfigPath == "" {
		return nil
	}
	return []string{"OPENCLAW_CONFIG_PATH=" + c.cfg.ConfigPath}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
