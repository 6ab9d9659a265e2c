// interfaces.go
// Core interfaces for solsync: Doer, SnapshotStore, ChangeSource.
// These are public and intended for use by callers and driver developers.

package solsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Snapshot is a last-known-good payload persisted outside process memory.
type Snapshot struct {
	StoredAt time.Time       `json:"ts"`
	Payload  json.RawMessage `json:"data"`
}

// SnapshotStore defines the interface for snapshot drivers.
// Get returns common.ErrNotFound for missing or expired keys.
type SnapshotStore interface {
	Get(ctx context.Context, key string) (Snapshot, error)
	Set(ctx context.Context, key string, snap Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	GetCacheStats(ctx context.Context) CacheStats
}

// CacheStats holds cache operation counters for monitoring.
type CacheStats struct {
	Counters map[string]int // Operation name to count
}

// ChangeSource is what a ChangeNotifier needs from the backend: an event
// stream and an unconditional stats poll.
type ChangeSource interface {
	OpenChangeStream(ctx context.Context) (io.ReadCloser, error)
	PollStats(ctx context.Context) (Stats, error)
}
