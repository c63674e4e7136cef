package access

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/platform"
	"github.com/sells-group/leadscout/internal/textutil"
)

// Config bounds the controller.
type Config struct {
	VideoCooldown time.Duration
	UserCooldown  time.Duration
	MaxEntries    int
	SweepEvery    int
}

// Operator floors applied to configured values.
const (
	minCooldown   = 60 * time.Second
	minMaxEntries = 2000
	minSweepEvery = 50
)

// FromConfig converts the access section, applying operator floors.
func FromConfig(c config.AccessConfig) Config {
	out := Config{
		VideoCooldown: time.Duration(c.VideoCooldownMinutes) * time.Minute,
		UserCooldown:  time.Duration(c.UserCooldownMinutes) * time.Minute,
		MaxEntries:    c.MaxEntries,
		SweepEvery:    c.SweepEvery,
	}
	if out.VideoCooldown < minCooldown {
		out.VideoCooldown = minCooldown
	}
	if out.UserCooldown < minCooldown {
		out.UserCooldown = minCooldown
	}
	if out.MaxEntries < minMaxEntries {
		out.MaxEntries = minMaxEntries
	}
	if out.SweepEvery < minSweepEvery {
		out.SweepEvery = minSweepEvery
	}
	return out
}

// Decision is the outcome of one check. Pass an allowed decision to Record
// once the visit or touch has actually happened.
type Decision struct {
	Kind       Kind
	Platform   string
	Identifier string
	Allowed    bool
	LastSeen   time.Time
}

// Controller gates revisits. It is driven by a single orchestrator goroutine.
type Controller struct {
	store    Store
	cfg      Config
	disabled bool
	now      func() time.Time
	log      *zap.Logger

	checks int
	stats  model.AccessStats
}

// New creates a controller over store. Zero config fields fall back to the
// defaults, without operator floors.
func New(store Store, cfg Config) *Controller {
	if cfg.VideoCooldown <= 0 {
		cfg.VideoCooldown = 240 * time.Minute
	}
	if cfg.UserCooldown <= 0 {
		cfg.UserCooldown = 120 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 120000
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 400
	}
	return &Controller{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "access")),
	}
}

// Disabled returns a controller that allows everything and stores nothing.
func Disabled() *Controller {
	c := New(NewMemoryStore(), Config{})
	c.disabled = true
	return c
}

// Open builds the controller described by the access config section:
// disabled, in-memory, or backed by the SQLite file at DBPath.
func Open(ctx context.Context, c config.AccessConfig) (*Controller, error) {
	if !c.Enabled {
		return Disabled(), nil
	}
	if !c.Persist {
		return New(NewMemoryStore(), FromConfig(c)), nil
	}
	st, err := NewSQLiteStore(c.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return New(st, FromConfig(c)), nil
}

// WithClock overrides the time source.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Store exposes the backing store for maintenance commands.
func (c *Controller) Store() Store { return c.store }

// ShouldVisitVideo checks the post cooldown. Posts are identified by their
// URL without query or fragment.
func (c *Controller) ShouldVisitVideo(ctx context.Context, platformName, postURL string) (Decision, error) {
	return c.check(ctx, KindVideo, platformName, VideoIdentifier(postURL))
}

// ShouldTouchUser checks the author cooldown.
func (c *Controller) ShouldTouchUser(ctx context.Context, platformName, author, authorURL string) (Decision, error) {
	return c.check(ctx, KindUser, platformName, UserIdentifier(author, authorURL))
}

// VideoIdentifier is the record identifier for a post URL.
func VideoIdentifier(postURL string) string {
	return platform.IdentityKey(postURL)
}

// UserIdentifier is the most specific key available for an author: the
// profile URL (path plus user-naming query parameters) when present, else
// the folded display name. Unknown names share one key so they stay gated.
func UserIdentifier(author, authorURL string) string {
	if u := strings.TrimSpace(authorURL); u != "" {
		return "url:" + platform.ProfileKey(u)
	}
	if textutil.IsUnknownAuthor(author) {
		return "name:unknown"
	}
	return "name:" + textutil.Fold(author)
}

func (c *Controller) check(ctx context.Context, kind Kind, platformName, identifier string) (Decision, error) {
	d := Decision{Kind: kind, Platform: platformName, Identifier: identifier}
	if c.disabled {
		d.Allowed = true
		c.count(kind, true)
		return d, nil
	}

	c.checks++
	if c.checks%c.cfg.SweepEvery == 0 {
		if _, _, err := c.Sweep(ctx); err != nil {
			c.log.Warn("access sweep failed", zap.Error(err))
		}
	}

	rec, err := c.store.Get(ctx, kind, platformName, identifier)
	if err != nil {
		// Fail closed.
		c.stats.Errors++
		return d, eris.Wrapf(err, "access: check %s", kind)
	}
	if rec == nil || rec.Expired(c.now()) {
		d.Allowed = true
		c.count(kind, true)
		return d, nil
	}
	d.LastSeen = rec.LastVisitAt
	c.count(kind, false)
	return d, nil
}

func (c *Controller) count(kind Kind, allowed bool) {
	switch {
	case kind == KindVideo && allowed:
		c.stats.VideoAllowed++
	case kind == KindVideo:
		c.stats.VideoBlocked++
	case allowed:
		c.stats.UserAllowed++
	default:
		c.stats.UserBlocked++
	}
}

// Record writes the touch for an allowed decision: last visit now, expiry
// now plus the kind's cooldown. Denied decisions are ignored.
func (c *Controller) Record(ctx context.Context, d Decision) error {
	if c.disabled || !d.Allowed {
		return nil
	}
	cooldown := c.cfg.VideoCooldown
	if d.Kind == KindUser {
		cooldown = c.cfg.UserCooldown
	}
	now := c.now()
	err := c.store.Upsert(ctx, Record{
		Kind:        d.Kind,
		Platform:    d.Platform,
		Identifier:  d.Identifier,
		LastVisitAt: now,
		ExpiresAt:   now.Add(cooldown),
	})
	if err != nil {
		c.stats.Errors++
		return err
	}
	return nil
}

// Sweep deletes expired records, then evicts oldest-expiring records until
// the store holds at most MaxEntries.
func (c *Controller) Sweep(ctx context.Context) (expired, evicted int, err error) {
	if c.disabled {
		return 0, 0, nil
	}
	c.stats.Sweeps++

	expired, err = c.store.DeleteExpired(ctx, c.now())
	if err != nil {
		c.stats.Errors++
		return 0, 0, err
	}
	c.stats.Expired += expired

	count, err := c.store.Count(ctx)
	if err != nil {
		c.stats.Errors++
		return expired, 0, err
	}
	if over := count - c.cfg.MaxEntries; over > 0 {
		evicted, err = c.store.EvictOldest(ctx, over)
		if err != nil {
			c.stats.Errors++
			return expired, 0, err
		}
		c.stats.Evicted += evicted
	}

	c.log.Debug("access sweep",
		zap.Int("expired", expired),
		zap.Int("evicted", evicted),
		zap.Int("remaining", count-evicted),
	)
	return expired, evicted, nil
}

// Snapshot returns the counters so far.
func (c *Controller) Snapshot() model.AccessStats {
	return c.stats
}

// Close releases the store.
func (c *Controller) Close() error {
	return c.store.Close()
}
