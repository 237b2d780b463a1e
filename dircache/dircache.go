// Package dircache keeps recently loaded catalog entry lists in
// memory for directories where a load is expensive, typically network
// mounts and removable media. Entries expire by age alone; a forced
// refresh always bypasses and repopulates the cache.
package dircache

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mhbvr/photocat"
	"github.com/mhbvr/photocat/catalog"
)

// DefaultTTL is how long a cached entry list stays valid unless
// overridden.
const DefaultTTL = 5 * time.Minute

var (
	hitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dircache_hits_total",
		Help: "Number of directory loads served from cache.",
	})
	missesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dircache_misses_total",
		Help: "Number of directory loads that went to the catalog.",
	})
)

func init() {
	prometheus.MustRegister(hitsTotal, missesTotal)
}

// Loader produces the entry list for a catalog root. The cache does
// not care how: a local shard load, a sync followed by a load,
// anything.
type Loader func(ctx context.Context, root string) ([]photocat.CatalogEntry, error)

// RegistryLoader adapts a catalog registry to a cache Loader.
func RegistryLoader(reg *catalog.Registry) Loader {
	return func(ctx context.Context, root string) ([]photocat.CatalogEntry, error) {
		return reg.For(root).LoadAll(ctx)
	}
}

type cached struct {
	entries  []photocat.CatalogEntry
	loadedAt time.Time
}

// Cache is a read-through TTL cache of catalog entry lists keyed by
// directory identity, so a remount of the same medium under a new
// path still hits. Callers must treat returned slices as read-only.
type Cache struct {
	load   Loader
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*cached
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.ttl = d
	}
}

// WithLogger directs cache log output to logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New returns a Cache that fills itself through load.
func New(load Loader, opts ...Option) *Cache {
	c := &Cache{
		load:    load,
		ttl:     DefaultTTL,
		logger:  log.New(io.Discard, "", 0),
		now:     time.Now,
		entries: make(map[string]*cached),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the entries for the catalog at dir, served from cache
// when the last load finished less than the TTL ago.
func (c *Cache) Load(ctx context.Context, dir string) ([]photocat.CatalogEntry, error) {
	id := DirectoryID(dir)

	c.mu.RLock()
	ce, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && c.now().Sub(ce.loadedAt) < c.ttl {
		hitsTotal.Inc()
		return ce.entries, nil
	}

	missesTotal.Inc()
	return c.refresh(ctx, dir, id)
}

// Refresh reloads dir unconditionally and repopulates its cache slot.
func (c *Cache) Refresh(ctx context.Context, dir string) ([]photocat.CatalogEntry, error) {
	missesTotal.Inc()
	return c.refresh(ctx, dir, DirectoryID(dir))
}

func (c *Cache) refresh(ctx context.Context, dir, id string) ([]photocat.CatalogEntry, error) {
	entries, err := c.load(ctx, dir)
	if err != nil {
		// Failed loads are not cached, the next call retries.
		return nil, err
	}

	c.mu.Lock()
	c.entries[id] = &cached{entries: entries, loadedAt: c.now()}
	c.mu.Unlock()

	c.logger.Printf("Cached %d entries for directory %s", len(entries), id)
	return entries, nil
}
