/*
cache.go - Generic read-through / write-through aggregate cache

PURPOSE:
  One cache manager, instantiated per derived view (stock, overview,
  analysis, invoice groups). Each instance is parameterized by a
  Staleness policy, a Granularity and a recompute function.

PERSISTED SHAPE:
  The whole collection lives under a single KVStore key as JSON:

    {"entries": {"<sub-key>": {"key": ..., "value": ..., "last_updated": ...}}}

  Pruning is therefore collection-wide: every read and every write loads
  the collection, drops expired entries, and persists the result if
  anything was removed.

READ PATH:
  Peek    -> entry or absent, never computes
  Get     -> hit returns; miss on NoTTL recomputes synchronously;
             miss on TTL returns ErrNotGenerated

WRITE PATH:
  Refresh / RefreshWith always recompute in full and merge only the
  refreshed sub-key into the stored collection. Concurrent refreshes of
  the same sub-key share one computation (singleflight). The
  read-modify-write of the collection is serialized by a mutex so two
  different sub-keys never overwrite each other.

FAILURES:
  A recompute or store error leaves the prior persisted state untouched.
  An undecodable payload is logged and treated as an empty collection.

SEE ALSO:
  - policy.go: Staleness and Granularity
  - store.go: KVStore contract
  - ledger/engine.go: The four cache instances
*/
package generic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// TYPES
// =============================================================================

// RecomputeFunc produces the value for one sub-key from scratch.
type RecomputeFunc[T any] func(ctx context.Context, key string) (T, error)

// Entry is one cached value with its write time.
type Entry[T any] struct {
	Key         string    `json:"key"`
	Value       T         `json:"value"`
	LastUpdated time.Time `json:"last_updated"`
}

// PruneResult reports collection size before and after a prune.
type PruneResult struct {
	OriginalSize int `json:"original_size"`
	NewSize      int `json:"new_size"`
}

// Removed is the number of entries dropped.
func (p PruneResult) Removed() int { return p.OriginalSize - p.NewSize }

// CacheObserver receives cache events. metrics.Collector implements it.
type CacheObserver interface {
	CacheHit(cache string)
	CacheMiss(cache string)
	CacheRefreshed(cache string, took time.Duration, err error)
	CachePruned(cache string, removed int)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)                           {}
func (nopObserver) CacheMiss(string)                          {}
func (nopObserver) CacheRefreshed(string, time.Duration, error) {}
func (nopObserver) CachePruned(string, int)                   {}

// CacheConfig configures a Cache.
type CacheConfig[T any] struct {
	Name        string // used in logs, metrics and errors
	StoreKey    string // KVStore key holding the collection; defaults to Name
	Staleness   Staleness
	Granularity Granularity
	Recompute   RecomputeFunc[T] // optional for caches refreshed only via RefreshWith
	Store       KVStore
	Clock       Clock
	Logger      *zap.Logger
	Observer    CacheObserver
}

type collection[T any] struct {
	Entries map[string]Entry[T] `json:"entries"`
}

// =============================================================================
// CACHE
// =============================================================================

// Cache is a persisted collection of derived values.
type Cache[T any] struct {
	cfg    CacheConfig[T]
	mu     sync.Mutex
	flight singleflight.Group
}

// NewCache builds a cache instance. Store is required.
func NewCache[T any](cfg CacheConfig[T]) *Cache[T] {
	if cfg.Store == nil {
		panic("generic: cache " + cfg.Name + " has no store")
	}
	if cfg.StoreKey == "" {
		cfg.StoreKey = cfg.Name
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	cfg.Logger = cfg.Logger.With(zap.String("cache", cfg.Name))
	return &Cache[T]{cfg: cfg}
}

// Name returns the cache name.
func (c *Cache[T]) Name() string { return c.cfg.Name }

// Staleness returns the configured policy.
func (c *Cache[T]) Staleness() Staleness { return c.cfg.Staleness }

// Peek returns the entry for key after pruning, without ever computing.
func (c *Cache[T]) Peek(ctx context.Context, key string) (Entry[T], bool, error) {
	key = c.subKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, err := c.loadPruned(ctx)
	if err != nil {
		return Entry[T]{}, false, err
	}
	entry, ok := coll.Entries[key]
	return entry, ok, nil
}

// Get is the read-through path. A NoTTL miss recomputes; a TTL miss
// returns a *NotGeneratedError.
func (c *Cache[T]) Get(ctx context.Context, key string) (Entry[T], error) {
	entry, ok, err := c.Peek(ctx, key)
	if err != nil {
		return Entry[T]{}, err
	}
	if ok {
		c.cfg.Observer.CacheHit(c.cfg.Name)
		return entry, nil
	}

	c.cfg.Observer.CacheMiss(c.cfg.Name)
	if c.cfg.Staleness.Expires() || c.cfg.Recompute == nil {
		return Entry[T]{}, &NotGeneratedError{Cache: c.cfg.Name, Key: c.subKey(key)}
	}

	c.cfg.Logger.Warn("cache miss, recomputing", zap.String("key", c.subKey(key)))
	return c.Refresh(ctx, key)
}

// Refresh recomputes key with the configured recompute function.
func (c *Cache[T]) Refresh(ctx context.Context, key string) (Entry[T], error) {
	if c.cfg.Recompute == nil {
		return Entry[T]{}, fmt.Errorf("%s: %w", c.cfg.Name, ErrNoRecompute)
	}
	return c.RefreshWith(ctx, key, c.cfg.Recompute)
}

// RefreshWith recomputes key with fn and merges the result into the
// stored collection. Callers refreshing the same key concurrently share
// a single computation and receive the same entry.
func (c *Cache[T]) RefreshWith(ctx context.Context, key string, fn RecomputeFunc[T]) (Entry[T], error) {
	key = c.subKey(key)

	// Waiters share this computation, so one caller's cancellation must
	// not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		start := time.Now()
		entry, err := c.refresh(shared, key, fn)
		c.cfg.Observer.CacheRefreshed(c.cfg.Name, time.Since(start), err)
		return entry, err
	})
	if err != nil {
		return Entry[T]{}, err
	}
	return v.(Entry[T]), nil
}

func (c *Cache[T]) refresh(ctx context.Context, key string, fn RecomputeFunc[T]) (Entry[T], error) {
	value, err := fn(ctx, key)
	if err != nil {
		return Entry[T]{}, fmt.Errorf("%s: recompute %q: %w", c.cfg.Name, key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, err := c.load(ctx)
	if err != nil {
		return Entry[T]{}, err
	}

	entry := Entry[T]{Key: key, Value: value, LastUpdated: c.cfg.Clock()}
	if c.cfg.Granularity == WholeCollection {
		coll.Entries = map[string]Entry[T]{}
	}
	coll.Entries[key] = entry
	c.prune(&coll)

	if err := c.save(ctx, coll); err != nil {
		c.cfg.Logger.Error("cache write failed, keeping previous state",
			zap.String("key", key), zap.Error(err))
		return Entry[T]{}, err
	}
	return entry, nil
}

// Prune drops expired entries and persists the collection if it shrank.
func (c *Cache[T]) Prune(ctx context.Context) (PruneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	coll, err := c.load(ctx)
	if err != nil {
		return PruneResult{}, err
	}
	res := PruneResult{OriginalSize: len(coll.Entries)}
	removed := c.prune(&coll)
	res.NewSize = len(coll.Entries)
	if removed > 0 {
		if err := c.save(ctx, coll); err != nil {
			return PruneResult{}, err
		}
	}
	return res, nil
}

// Keys lists the stored sub-keys in sorted order, after pruning.
func (c *Cache[T]) Keys(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	coll, err := c.loadPruned(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(coll.Entries))
	for k := range coll.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// =============================================================================
// INTERNALS - callers hold c.mu
// =============================================================================

func (c *Cache[T]) subKey(key string) string {
	if c.cfg.Granularity == WholeCollection || key == "" {
		return WholeKey
	}
	return key
}

func (c *Cache[T]) load(ctx context.Context) (collection[T], error) {
	empty := collection[T]{Entries: map[string]Entry[T]{}}

	raw, ok, err := c.cfg.Store.Get(ctx, c.cfg.StoreKey)
	if err != nil {
		return empty, &StoreError{Op: "get", Key: c.cfg.StoreKey, Err: err}
	}
	if !ok || len(raw) == 0 {
		return empty, nil
	}

	var coll collection[T]
	if err := json.Unmarshal(raw, &coll); err != nil {
		c.cfg.Logger.Warn("discarding undecodable cache payload", zap.Error(err))
		return empty, nil
	}
	if coll.Entries == nil {
		coll.Entries = map[string]Entry[T]{}
	}
	return coll, nil
}

func (c *Cache[T]) loadPruned(ctx context.Context) (collection[T], error) {
	coll, err := c.load(ctx)
	if err != nil {
		return coll, err
	}
	if c.prune(&coll) > 0 {
		if err := c.save(ctx, coll); err != nil {
			return coll, err
		}
	}
	return coll, nil
}

func (c *Cache[T]) prune(coll *collection[T]) int {
	if !c.cfg.Staleness.Expires() {
		return 0
	}
	now := c.cfg.Clock()
	removed := 0
	for k, e := range coll.Entries {
		if c.cfg.Staleness.Expired(e.LastUpdated, now) {
			delete(coll.Entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.cfg.Logger.Info("pruned expired cache entries",
			zap.Int("removed", removed), zap.Int("remaining", len(coll.Entries)))
		c.cfg.Observer.CachePruned(c.cfg.Name, removed)
	}
	return removed
}

func (c *Cache[T]) save(ctx context.Context, coll collection[T]) error {
	raw, err := json.Marshal(coll)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", c.cfg.Name, err)
	}
	if err := c.cfg.Store.Put(ctx, c.cfg.StoreKey, raw); err != nil {
		return &StoreError{Op: "put", Key: c.cfg.StoreKey, Err: err}
	}
	return nil
}
