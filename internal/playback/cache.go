package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CacheKey is the content address for cached resources: the same
// identity at two different tiers is two different resources.
type CacheKey struct {
	Identity string
	Tier     QualityTier
}

func (k CacheKey) String() string { return k.Identity + "@" + k.Tier.String() }

// CacheConfig bounds the cache footprint and the patience for fetches.
type CacheConfig struct {
	// BudgetBytes is the total footprint (active + idle) above which
	// idle entries are purged oldest-access-first. Zero means unlimited.
	BudgetBytes int64
	// FetchTimeout abandons a fetch that makes no progress, surfaced to
	// callers as a network error. Zero means no timeout.
	FetchTimeout time.Duration
}

type cacheEntry struct {
	key        CacheKey
	res        Resource
	size       int64
	refs       int
	lastAccess time.Time
}

// CacheStore maps cache keys to refcounted resource handles and
// de-duplicates concurrent fetches for the same key. Entries whose last
// consumer releases them stay resident in an idle pool for fast
// re-attach; idle entries are reclaimed when the byte budget is
// exceeded. Active entries are never evicted.
//
// The entry table is the only structure in this package mutated from
// multiple goroutines; everything else is single-writer.
type CacheStore struct {
	cfg CacheConfig
	log *zap.Logger

	mu      sync.Mutex
	entries map[CacheKey]*cacheEntry
	pending map[CacheKey]int
	group   singleflight.Group
}

func NewCacheStore(cfg CacheConfig, log *zap.Logger) *CacheStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CacheStore{
		cfg:     cfg,
		log:     log,
		entries: make(map[CacheKey]*cacheEntry),
		pending: make(map[CacheKey]int),
	}
}

// Acquire returns a shared resource handle for key, fetching if absent.
// Concurrent calls for the same key join a single fetch. The caller's
// ctx cancels only that caller's wait; the underlying fetch keeps
// serving any remaining waiters and runs under its own timeout.
// Every successful Acquire must be paired with a Release.
func (c *CacheStore) Acquire(ctx context.Context, key CacheKey, fetch FetchFunc) (Resource, error) {
	// Two attempts: an idle entry can be reclaimed between our share
	// miss and joining an already-completing fetch for the same key.
	for attempt := 0; attempt < 2; attempt++ {
		if res, ok := c.share(key); ok {
			return res, nil
		}

		// Pin the key so the budget sweep cannot purge the entry in the
		// window between the fill and our share. An entry bigger than
		// the whole budget is still handed to its waiters; it falls to
		// the sweep once the last of them releases it.
		c.pin(key)
		ch := c.group.DoChan(key.String(), func() (any, error) {
			return c.fetchAndInsert(key, fetch)
		})

		select {
		case <-ctx.Done():
			c.unpin(key)
			return nil, &FetchError{Kind: KindCancelled, Err: ctx.Err()}
		case r := <-ch:
			if r.Err != nil {
				c.unpin(key)
				return nil, AsFetchError(r.Err)
			}
			res, ok := c.share(key)
			c.unpin(key)
			if ok {
				return res, nil
			}
			// Joined a fetch whose entry was already idle-reclaimed
			// before we pinned; retry refetches.
		}
	}
	return nil, &FetchError{Kind: KindNetwork, Err: errors.New("cache entry reclaimed during acquire")}
}

func (c *CacheStore) pin(key CacheKey) {
	c.mu.Lock()
	c.pending[key]++
	c.mu.Unlock()
}

// unpin drops the in-flight protection and re-runs the sweep: if every
// waiter abandoned the fetch, the orphaned fill is fair game again.
func (c *CacheStore) unpin(key CacheKey) {
	c.mu.Lock()
	c.pending[key]--
	if c.pending[key] <= 0 {
		delete(c.pending, key)
	}
	c.evictLocked()
	c.mu.Unlock()
}

// Release returns a reference. At refcount zero the entry moves to the
// idle pool rather than being freed; the budget sweep decides its fate.
func (c *CacheStore) Release(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	e.lastAccess = time.Now()
	c.evictLocked()
}

// CacheStats is a point-in-time snapshot for observability and tests.
type CacheStats struct {
	Entries        int
	Idle           int
	FootprintBytes int64
}

func (c *CacheStore) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s CacheStats
	for _, e := range c.entries {
		s.Entries++
		if e.refs == 0 {
			s.Idle++
		}
		s.FootprintBytes += e.size
	}
	return s
}

func (c *CacheStore) share(key CacheKey) (Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.refs++
	e.lastAccess = time.Now()
	return e.res, true
}

func (c *CacheStore) fetchAndInsert(key CacheKey, fetch FetchFunc) (any, error) {
	fctx := context.Background()
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(fctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	out, err := fetch(fctx, key)
	if err != nil {
		return nil, AsFetchError(err)
	}
	if out.Resource == nil {
		return nil, &FetchError{Kind: KindNetwork, Err: errors.New("fetch returned no resource")}
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		key:        key,
		res:        out.Resource,
		size:       out.Size,
		lastAccess: time.Now(),
	}
	c.evictLocked()
	c.mu.Unlock()

	c.log.Debug("cache fill",
		zap.String("key", key.String()),
		zap.Int64("size", out.Size))
	return nil, nil
}

// evictLocked purges idle entries oldest-access-first until the
// footprint fits the budget. Caller holds c.mu.
func (c *CacheStore) evictLocked() {
	if c.cfg.BudgetBytes <= 0 {
		return
	}
	var total int64
	for _, e := range c.entries {
		total += e.size
	}
	for total > c.cfg.BudgetBytes {
		var victim *cacheEntry
		for _, e := range c.entries {
			if e.refs > 0 || c.pending[e.key] > 0 {
				continue
			}
			if victim == nil || e.lastAccess.Before(victim.lastAccess) {
				victim = e
			}
		}
		if victim == nil {
			return // everything referenced or pending; over budget but untouchable
		}
		delete(c.entries, victim.key)
		total -= victim.size
		if err := victim.res.Close(); err != nil {
			c.log.Warn("cache evict close", zap.String("key", victim.key.String()), zap.Error(err))
		}
		c.log.Debug("cache evict", zap.String("key", victim.key.String()), zap.Int64("size", victim.size))
	}
}
