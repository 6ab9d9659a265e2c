package solsync_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solsync"
)

func TestMemorySnapshotStore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := solsync.NewMemorySnapshotStore(clock)
	ctx := context.Background()

	_, err := store.Get(ctx, "snapshot:contacts:stats")
	require.ErrorIs(t, err, solsync.ErrNotFound)

	snap := solsync.Snapshot{StoredAt: clock.Now(), Payload: json.RawMessage(`{"total":3}`)}
	require.NoError(t, store.Set(ctx, "snapshot:contacts:stats", snap, time.Minute))

	got, err := store.Get(ctx, "snapshot:contacts:stats")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":3}`, string(got.Payload))
	assert.True(t, snap.StoredAt.Equal(got.StoredAt))

	clock.Advance(time.Minute)
	_, err = store.Get(ctx, "snapshot:contacts:stats")
	require.ErrorIs(t, err, solsync.ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", snap, 0))
	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, solsync.ErrNotFound)

	assert.Equal(t, map[string]int{
		"Get":        4,
		"GetMiss":    2,
		"GetHit":     1,
		"GetExpired": 1,
		"Set":        2,
		"Delete":     1,
	}, store.GetCacheStats(ctx).Counters)
}
