// Package gridcache keeps decoded GFS grids in memory for a fixed TTL and
// deduplicates concurrent fetches of the same grid.
package gridcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/observability"
)

// DefaultTTL is how long a fetched grid is served before it is refetched.
const DefaultTTL = 60 * time.Minute

// Cache is a TTL cache of grids in front of a GridFetcher. At most one fetch
// per key is in flight and at most workers fetches run at once.
type Cache struct {
	fetcher domain.GridFetcher
	ttl     time.Duration
	clock   clockwork.Clock
	workers *semaphore.Weighted
	flight  singleflight.Group
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	grid     domain.Grid
	storedAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for TTL checks.
func WithClock(c clockwork.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithLogger sets the logger for fetch failures.
func WithLogger(l *slog.Logger) Option {
	return func(cache *Cache) { cache.logger = l }
}

// New creates a cache around fetcher. A non-positive ttl uses DefaultTTL and
// workers is clamped to at least 1.
func New(fetcher domain.GridFetcher, ttl time.Duration, workers int, metrics *observability.Metrics, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if workers < 1 {
		workers = 1
	}
	c := &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		clock:   clockwork.NewRealClock(),
		workers: semaphore.NewWeighted(int64(workers)),
		metrics: metrics,
		logger:  slog.Default(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the cached grid for key, fetching it when absent or
// older than the TTL. Cancelling ctx stops the wait but not the fetch, which
// still populates the cache for later callers. Failed fetches are not cached.
func (c *Cache) GetOrFetch(ctx context.Context, key domain.GridKey) (domain.Grid, error) {
	id := key.String()
	grid, ok, err := c.lookup(id, key)
	if err != nil {
		return domain.Grid{}, err
	}
	if ok {
		c.metrics.GridCache.WithLabelValues("hit").Inc()
		return grid, nil
	}
	c.metrics.GridCache.WithLabelValues("miss").Inc()

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(id, func() (any, error) {
		return c.fetch(detached, id, key)
	})

	select {
	case <-ctx.Done():
		return domain.Grid{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Grid{}, res.Err
		}
		if res.Shared {
			c.metrics.GridCache.WithLabelValues("shared").Inc()
		}
		return res.Val.(domain.Grid), nil
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// lookup returns a fresh entry for key. An entry stored under id for a
// different key is dropped and reported as ErrCacheInconsistent.
func (c *Cache) lookup(id string, key domain.GridKey) (domain.Grid, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return domain.Grid{}, false, nil
	}
	if !sameKey(e.grid.Key, key) {
		c.mu.Lock()
		if cur, ok := c.entries[id]; ok && !sameKey(cur.grid.Key, key) {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		c.logger.Error("grid cache inconsistency", "key", id, "stored_key", e.grid.Key.String())
		return domain.Grid{}, false, fmt.Errorf("%w: entry %s holds %s", domain.ErrCacheInconsistent, id, e.grid.Key)
	}
	if c.clock.Since(e.storedAt) > c.ttl {
		c.metrics.GridCache.WithLabelValues("expired").Inc()
		return domain.Grid{}, false, nil
	}
	return e.grid, true, nil
}

func (c *Cache) fetch(ctx context.Context, id string, key domain.GridKey) (domain.Grid, error) {
	if err := c.workers.Acquire(ctx, 1); err != nil {
		return domain.Grid{}, err
	}
	defer c.workers.Release(1)

	// Another flight for this key may have finished while we queued.
	if grid, ok, err := c.lookup(id, key); err != nil {
		return domain.Grid{}, err
	} else if ok {
		return grid, nil
	}

	c.metrics.FetchesRunning.Inc()
	start := c.clock.Now()
	grid, err := c.fetcher.Fetch(ctx, key)
	c.metrics.FetchDuration.Observe(c.clock.Since(start).Seconds())
	c.metrics.FetchesRunning.Dec()
	c.metrics.GridFetches.WithLabelValues(fetchOutcome(err)).Inc()
	if err != nil {
		if !errors.Is(err, domain.ErrRunNotPublished) {
			c.logger.Warn("grid fetch failed", "key", id, "error", err)
		}
		return domain.Grid{}, err
	}

	if grid.Key == (domain.GridKey{}) {
		grid.Key = key
	} else if !sameKey(grid.Key, key) {
		return domain.Grid{}, fmt.Errorf("%w: fetch for %s returned %s", domain.ErrCacheInconsistent, id, grid.Key)
	}
	now := c.clock.Now()
	if grid.FetchedAt.IsZero() {
		grid.FetchedAt = now
	}
	c.mu.Lock()
	c.entries[id] = entry{grid: grid, storedAt: now}
	c.mu.Unlock()
	return grid, nil
}

func sameKey(a, b domain.GridKey) bool {
	return a.Run.Init.Equal(b.Run.Init) && a.LeadHour == b.LeadHour && a.BBox == b.BBox
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrRunNotPublished):
		return "not_published"
	case errors.Is(err, domain.ErrUpstream):
		return "upstream"
	case errors.Is(err, domain.ErrDecode):
		return "decode"
	default:
		return "error"
	}
}
