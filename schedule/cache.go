package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/schedflow/logging"
)

// CacheOptions configures the resource context cache.
type CacheOptions struct {
	// TTL is how long a fetched snapshot stays fresh.
	TTL time.Duration
	// FallbackTTL is the short expiry given to fallback snapshots so the
	// next call retries soon.
	FallbackTTL time.Duration
	// UsableGrace extends how long a stale last-known snapshot is still
	// served when a refresh fails.
	UsableGrace time.Duration
	// LookaheadDays bounds the occupied-slot fetch window [today, today+N].
	LookaheadDays int
	// Logger receives cache refresh events (defaults to NoOp).
	Logger logging.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Cache is a read-through, TTL-bounded cache of ResourceSnapshots. The
// snapshot value is replaced wholesale on refresh (copy-on-write), so
// concurrent readers never observe a half-updated view. Refresh is
// all-or-nothing per call: either all three fetches succeed and a new
// snapshot is installed, or the previous (or fallback) snapshot is served.
type Cache struct {
	dir  Directory
	opts CacheOptions

	mu      chan struct{} // refresh mutex; held only around the fan-out
	current atomic.Pointer[ResourceSnapshot]
}

// NewCache constructs a Cache over the given directory.
func NewCache(dir Directory, optFns ...func(o *CacheOptions)) *Cache {
	opts := CacheOptions{
		TTL:           5 * time.Minute,
		FallbackTTL:   15 * time.Second,
		UsableGrace:   10 * time.Minute,
		LookaheadDays: 14,
		Logger:        logging.NoOpLogger{},
		Now:           time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	c := &Cache{dir: dir, opts: opts, mu: make(chan struct{}, 1)}
	c.mu <- struct{}{}
	return c
}

// Get returns the current snapshot if unexpired, otherwise refreshes. On
// partial or total fetch failure it returns the last known snapshot while
// still within the usable grace window, else a minimal fallback snapshot
// with a very short TTL.
func (c *Cache) Get(ctx context.Context) *ResourceSnapshot {
	now := c.opts.Now()
	if snap := c.current.Load(); snap != nil && !snap.Expired(now) {
		return snap
	}

	// Serialize refreshes; a waiter re-checks freshness after acquiring.
	select {
	case <-c.mu:
	case <-ctx.Done():
		return c.lastKnownOrFallback(now)
	}
	defer func() { c.mu <- struct{}{} }()

	now = c.opts.Now()
	if snap := c.current.Load(); snap != nil && !snap.Expired(now) {
		return snap
	}

	snap, err := c.refresh(ctx, now)
	if err != nil {
		c.opts.Logger.Warn("cache.refresh.failed", "error", err.Error())
		return c.lastKnownOrFallback(now)
	}

	c.current.Store(snap)
	c.opts.Logger.Debug(
		"cache.refresh.ok",
		"providers", len(snap.Providers),
		"rooms", len(snap.Rooms),
		"occupied", len(snap.Occupied),
	)
	return snap
}

// refresh performs the three backend fetches concurrently and assembles a
// new snapshot. Any single failure fails the whole refresh.
func (c *Cache) refresh(ctx context.Context, now time.Time) (*ResourceSnapshot, error) {
	var (
		providers []Provider
		rooms     []Room
		occupied  []OccupiedSlot
	)

	from := now.Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, c.opts.LookaheadDays)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		providers, err = c.dir.Providers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		rooms, err = c.dir.Rooms(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		occupied, err = c.dir.Occupied(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ResourceSnapshot{
		Providers: providers,
		Rooms:     rooms,
		Occupied:  occupied,
		FetchedAt: now,
		ExpiresAt: now.Add(c.opts.TTL),
	}, nil
}

// lastKnownOrFallback serves the previous snapshot while usable, else a
// minimal single-provider/single-room placeholder.
func (c *Cache) lastKnownOrFallback(now time.Time) *ResourceSnapshot {
	if snap := c.current.Load(); snap != nil && now.Before(snap.ExpiresAt.Add(c.opts.UsableGrace)) {
		return snap
	}
	return &ResourceSnapshot{
		Providers: []Provider{{ID: "default", Name: "Default Provider"}},
		Rooms:     []Room{{ID: "default", Name: "Default Room"}},
		FetchedAt: now,
		ExpiresAt: now.Add(c.opts.FallbackTTL),
		Fallback:  true,
	}
}
