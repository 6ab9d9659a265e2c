// Package redis stores solsync snapshots in Redis so they outlive the
// process and can be shared by several clients on one machine.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"solsync"
	"solsync/common"
	"solsync/internal/logging"
)

// DefaultPrefix namespaces snapshot keys in a shared database.
const DefaultPrefix = "solsync:snapshot:"

// client implements solsync.SnapshotStore on top of a Redis client.
type client struct {
	rdb               *redis.Client
	prefix            string
	logger            *zap.Logger
	mu                sync.Mutex
	counters          map[string]int
	createdInternally bool
}

var (
	_ solsync.SnapshotStore = (*client)(nil)
	_ io.Closer             = (*client)(nil)
)

// Options configures a store created without an existing Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix defaults to DefaultPrefix.
	Prefix string
	Logger *zap.Logger
}

// Store is a SnapshotStore that must be closed.
type Store interface {
	solsync.SnapshotStore
	io.Closer
}

// NewClient wraps redisCli, or dials opts.Addr when redisCli is nil. A
// dialed connection is pinged before returning and is closed by Close; a
// supplied one is left to its owner.
func NewClient(ctx context.Context, redisCli *redis.Client, opts *Options) (Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	c := &client{
		rdb:      redisCli,
		prefix:   opts.Prefix,
		logger:   logging.OrNop(opts.Logger),
		counters: make(map[string]int),
	}
	if c.prefix == "" {
		c.prefix = DefaultPrefix
	}
	if c.rdb == nil {
		c.rdb = redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
		c.createdInternally = true

		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.rdb.Ping(pctx).Err(); err != nil {
			_ = c.rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}
	c.logger.Info("redis snapshot store ready", zap.String("prefix", c.prefix))
	return c, nil
}

func (c *client) incrementCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
}

// Close implements io.Closer.
func (c *client) Close() error {
	if c.createdInternally && c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Get returns the snapshot under key. Redis expires keys itself, so a
// missing key covers both never-written and stale snapshots.
func (c *client) Get(ctx context.Context, key string) (solsync.Snapshot, error) {
	c.incrementCounter("Get")
	val, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.incrementCounter("GetMiss")
		return solsync.Snapshot{}, common.ErrNotFound
	}
	if err != nil {
		c.incrementCounter("GetError")
		return solsync.Snapshot{}, fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}

	var snap solsync.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		// Unreadable values count as misses.
		c.incrementCounter("GetCorrupt")
		c.logger.Warn("dropping unreadable snapshot", zap.String("key", key), zap.Error(err))
		_ = c.rdb.Del(ctx, c.prefix+key).Err()
		return solsync.Snapshot{}, common.ErrNotFound
	}
	c.incrementCounter("GetHit")
	return snap, nil
}

// Set stores snap under key. A ttl of zero keeps it until deleted.
func (c *client) Set(ctx context.Context, key string, snap solsync.Snapshot, ttl time.Duration) error {
	c.incrementCounter("Set")
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot '%s': %w", key, err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis Set error for key '%s': %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *client) Delete(ctx context.Context, key string) error {
	c.incrementCounter("Delete")
	if err := c.rdb.Del(ctx, c.prefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis Del error for key '%s': %w", key, err)
	}
	return nil
}

// GetCacheStats returns a copy of the operation counters.
func (c *client) GetCacheStats(ctx context.Context) solsync.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return solsync.CacheStats{Counters: out}
}
