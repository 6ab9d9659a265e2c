// Package solsync is the client-side data-synchronization layer of the Sol
// Online contacts workflow. A Client owns its revalidation cache, validator
// map, in-flight request table and snapshot store handle; construct one per
// session and pass it to consumers.
package solsync

import (
	"net/http"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"solsync/internal/logging"
	"solsync/internal/metrics"
)

// Options carries a Client's collaborators. Only Config is required.
type Options struct {
	Config     Config
	HTTPClient Doer
	Snapshots  SnapshotStore
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
	Clock      clockwork.Clock
	// OnUnauthorized runs after a 401/419 cleared the session, e.g. to
	// navigate back to the login screen.
	OnUnauthorized func()
}

// Client talks to the contacts backend through a revalidating cache.
type Client struct {
	cfg       Config
	http      Doer
	snapshots SnapshotStore
	logger    *zap.Logger
	metrics   *metrics.Recorder
	clock     clockwork.Clock
	tracer    trace.Tracer

	session        *Session
	onUnauthorized func()

	cache    *revalidationCache
	inflight singleflight.Group
}

// NewClient creates a Client. Missing collaborators get defaults: a plain
// http.Client, an in-memory snapshot store, a no-op logger and the real clock.
func NewClient(opts Options) (*Client, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	doer := opts.HTTPClient
	if doer == nil {
		doer = &http.Client{}
	}
	snaps := opts.Snapshots
	if snaps == nil {
		snaps = NewMemorySnapshotStore(clock)
	}
	cache, err := newRevalidationCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:            cfg,
		http:           doer,
		snapshots:      snaps,
		logger:         logging.OrNop(opts.Logger),
		metrics:        opts.Metrics,
		clock:          clock,
		tracer:         otel.Tracer("solsync"),
		session:        &Session{},
		onUnauthorized: opts.OnUnauthorized,
		cache:          cache,
	}
	if cfg.Token != "" {
		c.session.set(cfg.Token, nil)
	}
	return c, nil
}

// Config returns the validated configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Session returns the client's session.
func (c *Client) Session() *Session {
	return c.session
}

// CacheStats returns the revalidation cache's operation counters.
func (c *Client) CacheStats() CacheStats {
	return c.cache.stats()
}

// LatencyStats returns per-endpoint latency quantiles, if metrics are enabled.
func (c *Client) LatencyStats() []metrics.Stats {
	if tracker := c.metrics.Latency(); tracker != nil {
		return tracker.GetAllStats()
	}
	return nil
}
