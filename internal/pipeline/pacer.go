package pipeline

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pacer spaces out post visits: a token bucket keeps the long-run rate at
// one action per minimum pause, and each pause adds a uniform jitter
// between min and max. Pauses are cut short at the deadline.
type pacer struct {
	min, max time.Duration
	limiter  *rate.Limiter
	rng      *rand.Rand
	now      func() time.Time
	sleep    Sleeper
}

func newPacer(minPause, maxPause time.Duration, now func() time.Time, sleep Sleeper, rng *rand.Rand) *pacer {
	if maxPause < minPause {
		maxPause = minPause
	}
	limit := rate.Inf
	if minPause > 0 {
		limit = rate.Every(minPause)
	}
	return &pacer{
		min:     minPause,
		max:     maxPause,
		limiter: rate.NewLimiter(limit, 1),
		rng:     rng,
		now:     now,
		sleep:   sleep,
	}
}

// jitter returns a pause drawn uniformly from [min, max].
func (p *pacer) jitter() time.Duration {
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	return p.min + time.Duration(p.rng.Int64N(int64(span)+1))
}

// between draws a duration in [lo, hi] from the pacer's source. Used for
// in-tab waits.
func (p *pacer) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.rng.Int64N(int64(hi-lo)+1))
}

// Pause waits for the next action slot, never past deadline.
func (p *pacer) Pause(ctx context.Context, deadline time.Time) error {
	now := p.now()
	r := p.limiter.ReserveN(now, 1)
	d := max(r.DelayFrom(now), p.jitter())
	if left := deadline.Sub(now); d > left {
		d = left
	}
	if d <= 0 {
		return nil
	}
	return p.sleep(ctx, d)
}
