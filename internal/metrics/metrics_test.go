package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	require.NoError(t, err)

	r.CacheHit("contacts")
	r.CacheHit("contacts")
	r.CacheMiss("contacts")
	r.NotModified("stats")
	r.Fallback()
	r.Poll()
	r.Poll()
	r.ObserveLatency("contacts", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheHits.WithLabelValues("contacts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheMisses.WithLabelValues("contacts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notModified.WithLabelValues("stats")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.polls))

	stats, err := r.Latency().GetStats("contacts")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Count)

	// Registering a second recorder on the same registry collides.
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.CacheHit("contacts")
		r.FetchError("contacts")
		r.Fallback()
		r.ObserveLatency("contacts", time.Millisecond)
	})
	assert.Nil(t, r.Latency())
}
