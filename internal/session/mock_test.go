package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/leadscout/internal/resilience"
)

type scriptedReply struct {
	out Output
	err error
}

// fakeRunner replays scripted replies in order and records every argv.
// Once the script is exhausted the last reply repeats.
type fakeRunner struct {
	mu      sync.Mutex
	replies []scriptedReply
	calls   [][]string
	envs    [][]string
}

func (f *fakeRunner) Run(_ context.Context, args []string, env []string) (Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.envs = append(f.envs, env)
	if len(f.replies) == 0 {
		return Output{}, nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r.out, r.err
}

func (f *fakeRunner) push(stdout string, exit int) *fakeRunner {
	f.replies = append(f.replies, scriptedReply{out: Output{Stdout: stdout, ExitCode: exit}})
	return f
}

func (f *fakeRunner) pushErr(err error) *fakeRunner {
	f.replies = append(f.replies, scriptedReply{err: err})
	return f
}

// countVerb counts calls whose argv contains verb.
func (f *fakeRunner) countVerb(verb string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(strings.Join(c, " "), verb) {
			n++
		}
	}
	return n
}

func fastBackoff() resilience.RetryConfig {
	return resilience.RetryConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func newTestClient(r *fakeRunner) *OpenClaw {
	return NewOpenClaw(OpenClawConfig{Profile: "openclaw", ConfigPath: "/tmp/oc.json", Backoff: fastBackoff()}, r)
}
