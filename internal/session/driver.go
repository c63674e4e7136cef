// Package session drives the browser automation backend. Every backend is
// reached through the Driver interface so the orchestrator never knows
// whether it talks to a subprocess or an in-process browser.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/config"
)

// Target identifies one open browsing tab.
type Target struct {
	ID  string `json:"targetId"`
	URL string `json:"url,omitempty"`
}

// Driver is the contract every automation backend implements. All calls
// block up to their own bounded timeout.
type Driver interface {
	// Name identifies the backend in logs.
	Name() string
	// Start brings the backend up. Failure is fatal to a run.
	Start(ctx context.Context) error
	Open(ctx context.Context, url string) (Target, error)
	Close(ctx context.Context, targetID string) error
	WaitLoad(ctx context.Context, targetID string, timeout time.Duration) error
	Wait(ctx context.Context, targetID string, d time.Duration) error
	Press(ctx context.Context, targetID, key string) error
	// Evaluate runs a script in the tab and returns its structured result.
	Evaluate(ctx context.Context, targetID, script string, timeout time.Duration) (json.RawMessage, error)
	// Shutdown releases the backend.
	Shutdown(ctx context.Context) error
}

// ErrorKind classifies driver failures.
type ErrorKind string

// Driver error kinds.
const (
	KindTimeout            ErrorKind = "timeout"
	KindGatewayUnavailable ErrorKind = "gateway_unavailable"
	KindMalformedReply     ErrorKind = "malformed_reply"
	KindCommandFailed      ErrorKind = "command_failed"
)

// DriverError is returned once a call has exhausted its retries.
type DriverError struct {
	Op       string
	Kind     ErrorKind
	Attempts int
	Output   string
	Err      error
}

func (e *DriverError) Error() string {
	msg := fmt.Sprintf("session: %s %s after %d attempt(s)", e.Op, e.Kind, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// KindOf returns the DriverError kind in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func newDriverError(op string, kind ErrorKind, output string, err error) *DriverError {
	const maxOutput = 600
	if len(output) > maxOutput {
		output = output[:maxOutput]
	}
	return &DriverError{Op: op, Kind: kind, Output: output, Err: err}
}

// New builds the backend selected by cfg.
func New(cfg config.DriverConfig) (Driver, error) {
	switch cfg.Backend {
	case "", "openclaw":
		bin, err := ResolveBin(cfg.Bin)
		if err != nil {
			return nil, err
		}
		return NewOpenClaw(OpenClawConfig{
			Profile:         cfg.Profile,
			ConfigPath:      cfg.ConfigPath,
			GatewayRestarts: cfg.GatewayRestarts,
		}, &ExecRunner{Bin: bin}), nil
	case "rod":
		return NewRod(RodConfig{RemoteURL: cfg.RemoteURL, Headless: cfg.Headless}), nil
	default:
		return nil, eris.Errorf("session: unknown backend %q", cfg.Backend)
	}
}
