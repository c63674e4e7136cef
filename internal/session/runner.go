package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// Output is what one subprocess invocation produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined joins stdout and stderr the way the backend's own tooling
// prints them.
func (o Output) Combined() string {
	if o.Stderr == "" {
		return o.Stdout
	}
	return o.Stdout + "\n" + o.Stderr
}

// Runner executes the automation CLI. A non-zero exit is reported through
// Output.ExitCode, not as an error; err is reserved for failures to run at
// all (missing binary, context deadline).
type Runner interface {
	Run(ctx context.Context, args []string, env []string) (Output, error)
}

// ExecRunner runs a local binary.
type ExecRunner struct {
	Bin string
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, args []string, env []string) (Output, error) {
	cmd := exec.CommandContext(ctx, r.Bin, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, eris.Wrapf(err, "session: run %s", r.Bin)
	}
	return out, nil
}

// ResolveBin finds the automation CLI: explicit path, then $OPENCLAW_BIN,
// then PATH.
func ResolveBin(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	if env := strings.TrimSpace(os.Getenv("OPENCLAW_BIN")); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
	}
	for _, name := range []string{"openclaw", "openclaw.cmd"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", eris.New("session: openclaw executable not found; set driver.bin or OPENCLAW_BIN")
}
