package solsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const snapshotWriteTimeout = 2 * time.Second

// cacheEntry is superseded on every successful fetch or 304 confirmation,
// never mutated in place.
type cacheEntry struct {
	storedAt time.Time
	payload  any
}

// revalidationCache holds cache entries and their validators (ETags).
// Entries live in a bounded LRU; a validator may outlive its entry, which
// the 304-without-entry recovery path handles.
type revalidationCache struct {
	mu         sync.Mutex
	entries    *lru.Cache[CacheKey, cacheEntry]
	validators map[CacheKey]string
	counters   map[string]int
}

func newRevalidationCache(size int) (*revalidationCache, error) {
	entries, err := lru.New[CacheKey, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create revalidation cache: %w", err)
	}
	return &revalidationCache{
		entries:    entries,
		validators: make(map[CacheKey]string),
		counters:   make(map[string]int),
	}, nil
}

// fresh returns the payload stored under key when it is younger than ttl.
func (rc *revalidationCache) fresh(key CacheKey, ttl time.Duration, now time.Time) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries.Get(key)
	if ok && now.Sub(e.storedAt) < ttl {
		rc.counters["Hit"]++
		return e.payload, true
	}
	rc.counters["Miss"]++
	return nil, false
}

func (rc *revalidationCache) validator(key CacheKey) string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.validators[key]
}

// confirm handles a 304: it re-stamps the existing entry and returns its
// payload, or reports false when no entry exists for key.
func (rc *revalidationCache) confirm(key CacheKey, now time.Time) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries.Peek(key)
	if !ok {
		rc.counters["NotModifiedWithoutEntry"]++
		return nil, false
	}
	rc.entries.Add(key, cacheEntry{storedAt: now, payload: e.payload})
	rc.counters["NotModified"]++
	return e.payload, true
}

// store records a full response. An empty validator drops any previous one
// so a stale ETag is never paired with new data.
func (rc *revalidationCache) store(key CacheKey, payload any, validator string, now time.Time) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries.Add(key, cacheEntry{storedAt: now, payload: payload})
	if validator != "" {
		rc.validators[key] = validator
	} else {
		delete(rc.validators, key)
	}
	rc.counters["Store"]++
}

// invalidateFamily drops every entry and validator whose key starts with family.
func (rc *revalidationCache) invalidateFamily(family string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	removed := 0
	for _, k := range rc.entries.Keys() {
		if k.InFamily(family) {
			rc.entries.Remove(k)
			removed++
		}
	}
	for k := range rc.validators {
		if k.InFamily(family) {
			delete(rc.validators, k)
		}
	}
	rc.counters["Invalidate"]++
	return removed
}

// invalidateKey drops one entry and its validator.
func (rc *revalidationCache) invalidateKey(key CacheKey) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries.Remove(key)
	delete(rc.validators, key)
	rc.counters["Invalidate"]++
}

func (rc *revalidationCache) stats() CacheStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	cloned := make(map[string]int, len(rc.counters))
	for k, v := range rc.counters {
		cloned[k] = v
	}
	return CacheStats{Counters: cloned}
}

// conditionalResponse is the outcome of one conditional network call.
type conditionalResponse[T any] struct {
	NotModified bool
	Validator   string
	Payload     T
}

// conditionalFetch performs the network call, sending validator as
// If-None-Match when non-empty.
type conditionalFetch[T any] func(ctx context.Context, validator string) (conditionalResponse[T], error)

type fetchPlan struct {
	key      CacheKey
	resource string
	ttl      time.Duration
	timeout  time.Duration
	force    bool
}

// revalidate serves key from a fresh cache entry or fetches it once through
// the in-flight table, revalidating with the stored validator. Every
// successful path updates both the cache entry and the snapshot.
func revalidate[T any](ctx context.Context, c *Client, plan fetchPlan, fetch conditionalFetch[T]) (T, error) {
	var zero T
	if !plan.force {
		if v, ok := c.cache.fresh(plan.key, plan.ttl, c.clock.Now()); ok {
			if payload, ok := v.(T); ok {
				c.metrics.CacheHit(plan.resource)
				c.logger.Debug("cache hit", zap.String("key", string(plan.key)))
				return payload, nil
			}
		}
	}
	c.metrics.CacheMiss(plan.resource)

	v, err := c.dedupe(ctx, plan, func(ctx context.Context) (any, error) {
		return fetchAndStore(ctx, c, plan, fetch)
	})
	if err != nil {
		c.logFetchError(plan.resource, plan.key, err)
		return zero, err
	}
	return v.(T), nil
}

func fetchAndStore[T any](ctx context.Context, c *Client, plan fetchPlan, fetch conditionalFetch[T]) (T, error) {
	var zero T
	resp, err := fetch(ctx, c.cache.validator(plan.key))
	if err != nil {
		return zero, err
	}
	if resp.NotModified {
		if v, ok := c.cache.confirm(plan.key, c.clock.Now()); ok {
			c.metrics.NotModified(plan.resource)
			payload := v.(T)
			c.writeSnapshot(ctx, plan.key, payload)
			return payload, nil
		}
		// 304 for a key we hold nothing for (e.g. invalidated after a write):
		// ask again without the precondition to force a full payload.
		c.metrics.Anomaly(plan.resource)
		c.logger.Debug("not modified without cached entry, refetching", zap.String("key", string(plan.key)))
		resp, err = fetch(ctx, "")
		if err != nil {
			return zero, err
		}
		if resp.NotModified {
			return zero, fmt.Errorf("%s: %w", plan.key, ErrNotModifiedWithoutEntry)
		}
	}
	c.cache.store(plan.key, resp.Payload, resp.Validator, c.clock.Now())
	c.writeSnapshot(ctx, plan.key, resp.Payload)
	return resp.Payload, nil
}

// writeSnapshot persists payload for instant display after a reload.
// Failures are logged and otherwise ignored.
func (c *Client) writeSnapshot(ctx context.Context, key CacheKey, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("marshal snapshot", zap.String("key", string(key)), zap.Error(err))
		return
	}
	snap := Snapshot{StoredAt: c.clock.Now(), Payload: raw}
	// Detached from the fetch deadline.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotWriteTimeout)
	defer cancel()
	if err := c.snapshots.Set(sctx, key.SnapshotKey(), snap, c.cfg.SnapshotTTL); err != nil {
		c.logger.Warn("write snapshot", zap.String("key", string(key)), zap.Error(err))
	}
}

// readSnapshot decodes the snapshot of key into dest. Missing, expired or
// undecodable snapshots all report false.
func (c *Client) readSnapshot(ctx context.Context, key CacheKey, dest any) bool {
	snap, err := c.snapshots.Get(ctx, key.SnapshotKey())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Debug("read snapshot", zap.String("key", string(key)), zap.Error(err))
		}
		return false
	}
	if c.clock.Since(snap.StoredAt) > c.cfg.SnapshotTTL {
		return false
	}
	if err := json.Unmarshal(snap.Payload, dest); err != nil {
		c.logger.Debug("decode snapshot", zap.String("key", string(key)), zap.Error(err))
		return false
	}
	return true
}

// InvalidateFamily drops every cache entry and validator of a resource family.
// Snapshots are left alone; the next successful fetch overwrites them.
func (c *Client) InvalidateFamily(family string) {
	n := c.cache.invalidateFamily(family)
	c.logger.Debug("invalidated cache family", zap.String("family", family), zap.Int("entries", n))
}

// InvalidateContacts drops all record-list and stats entries.
func (c *Client) InvalidateContacts() {
	c.InvalidateFamily(ContactsFamily)
}
