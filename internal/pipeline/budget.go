package pipeline

import (
	"fmt"
	"time"
)

// Operator floors for the soft timeouts.
const (
	MinPlatformTimeout = 60 * time.Second
	MinGlobalTimeout   = 120 * time.Second
)

// Scope names the level a budget applies to.
type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeGlobal   Scope = "global"
)

// BudgetError reports an exhausted soft timeout. It stops new work at its
// scope; leads collected so far are kept.
type BudgetError struct {
	Scope    Scope
	Platform string
	Elapsed  time.Duration
	Limit    time.Duration
}

func (e *BudgetError) Error() string {
	if e.Scope == ScopePlatform {
		return fmt.Sprintf("pipeline: platform %s budget exceeded (%s > %s)", e.Platform, e.Elapsed.Round(time.Second), e.Limit)
	}
	return fmt.Sprintf("pipeline: global budget exceeded (%s > %s)", e.Elapsed.Round(time.Second), e.Limit)
}

// budget is one soft timeout measured from start.
type budget struct {
	scope    Scope
	platform string
	start    time.Time
	limit    time.Duration
}

func (b budget) deadline() time.Time { return b.start.Add(b.limit) }

// check returns a *BudgetError once more than limit has elapsed at now.
func (b budget) check(now time.Time) error {
	elapsed := now.Sub(b.start)
	if elapsed <= b.limit {
		return nil
	}
	return &BudgetError{Scope: b.scope, Platform: b.platform, Elapsed: elapsed, Limit: b.limit}
}

// clampTimeout applies floor to a configured number of seconds.
func clampTimeout(secs int, floor time.Duration) time.Duration {
	return max(time.Duration(secs)*time.Second, floor)
}
