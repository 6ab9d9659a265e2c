package solsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// memorySnapshots implements SnapshotStore in process memory. Snapshots do
// not survive a restart; use the redis or sqlite driver for that.
type memorySnapshots struct {
	clock      clockwork.Clock
	store      sync.Map // map[string]*memorySnapshot
	counters   sync.Map // map[string]int
	countersMu sync.Mutex
}

type memorySnapshot struct {
	snap      Snapshot
	expiresAt time.Time
}

var _ SnapshotStore = (*memorySnapshots)(nil)

// NewMemorySnapshotStore returns an in-memory SnapshotStore. Expiry is
// judged by clock; nil means the real clock.
func NewMemorySnapshotStore(clock clockwork.Clock) SnapshotStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &memorySnapshots{clock: clock}
}

func (m *memorySnapshots) Get(ctx context.Context, key string) (Snapshot, error) {
	m.incrCounter("Get")
	v, ok := m.store.Load(key)
	if !ok {
		m.incrCounter("GetMiss")
		return Snapshot{}, ErrNotFound
	}
	entry := v.(*memorySnapshot)
	if !entry.expiresAt.IsZero() && !m.clock.Now().Before(entry.expiresAt) {
		m.store.CompareAndDelete(key, v)
		m.incrCounter("GetExpired")
		return Snapshot{}, ErrNotFound
	}
	m.incrCounter("GetHit")
	return entry.snap, nil
}

func (m *memorySnapshots) Set(ctx context.Context, key string, snap Snapshot, ttl time.Duration) error {
	m.incrCounter("Set")
	entry := &memorySnapshot{snap: snap}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}
	m.store.Store(key, entry)
	return nil
}

func (m *memorySnapshots) Delete(ctx context.Context, key string) error {
	m.incrCounter("Delete")
	m.store.Delete(key)
	return nil
}

func (m *memorySnapshots) incrCounter(name string) {
	m.countersMu.Lock()
	defer m.countersMu.Unlock()
	val, _ := m.counters.LoadOrStore(name, 0)
	m.counters.Store(name, val.(int)+1)
}

func (m *memorySnapshots) GetCacheStats(ctx context.Context) CacheStats {
	cloned := make(map[string]int)
	m.counters.Range(func(key, value any) bool {
		k, ok1 := key.(string)
		v, ok2 := value.(int)
		if ok1 && ok2 {
			cloned[k] = v
		}
		return true
	})
	return CacheStats{Counters: cloned}
}
