package solsync_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solsync"
)

// fakeSource serves a scripted stream and a sequence of stats.
type fakeSource struct {
	stream  io.ReadCloser
	openErr error
	stats   []solsync.Stats
	pollErr error
	polls   atomic.Int32
}

func (s *fakeSource) OpenChangeStream(ctx context.Context) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.stream, nil
}

func (s *fakeSource) PollStats(ctx context.Context) (solsync.Stats, error) {
	i := int(s.polls.Add(1)) - 1
	if s.pollErr != nil {
		return solsync.Stats{}, s.pollErr
	}
	if len(s.stats) == 0 {
		return solsync.Stats{}, errors.New("no stats scripted")
	}
	return s.stats[min(i, len(s.stats)-1)], nil
}

type notifierHarness struct {
	src    *fakeSource
	clock  *clockwork.FakeClock
	sub    *solsync.Subscription
	events chan solsync.ChangeEvent
	writer *io.PipeWriter
}

func startNotifier(t *testing.T, src *fakeSource) *notifierHarness {
	t.Helper()
	h := &notifierHarness{src: src, clock: clockwork.NewFakeClock(), events: make(chan solsync.ChangeEvent, 16)}
	if src.stream == nil && src.openErr == nil {
		pr, pw := io.Pipe()
		src.stream = pr
		h.writer = pw
	}
	n := solsync.NewChangeNotifier(solsync.NotifierOptions{Source: src, Clock: h.clock})
	h.sub = n.Subscribe(context.Background(), func(e solsync.ChangeEvent) { h.events <- e })
	t.Cleanup(h.sub.Stop)
	return h
}

func (h *notifierHarness) waitForTimers(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, n))
}

func (h *notifierHarness) nextEvent(t *testing.T) solsync.ChangeEvent {
	t.Helper()
	select {
	case e := <-h.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
		return solsync.ChangeEvent{}
	}
}

func (h *notifierHarness) send(t *testing.T, raw string) {
	t.Helper()
	_, err := h.writer.Write([]byte(raw))
	require.NoError(t, err)
}

func TestNotifier_WatchdogFallsBackAndPollsImmediately(t *testing.T) {
	h := startNotifier(t, &fakeSource{stats: []solsync.Stats{{Total: 3, Pending: 3}}})
	h.waitForTimers(t, 1)
	assert.Equal(t, solsync.StateStreaming, h.sub.State())

	h.clock.Advance(25*time.Second - time.Millisecond)
	assert.Equal(t, int32(0), h.src.polls.Load())

	h.clock.Advance(time.Millisecond)
	e := h.nextEvent(t)
	assert.Equal(t, solsync.ViaPoll, e.Via)
	assert.Equal(t, int32(1), h.src.polls.Load(), "first poll must not wait for the interval")
	assert.Equal(t, solsync.StatePolling, h.sub.State())

	h.waitForTimers(t, 1)
	h.clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return h.src.polls.Load() == 2 }, 2*time.Second, time.Millisecond)
	select {
	case e := <-h.events:
		t.Fatalf("unchanged stats produced %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNotifier_PingResetsWatchdog(t *testing.T) {
	h := startNotifier(t, &fakeSource{stats: []solsync.Stats{{Total: 1}}})
	h.waitForTimers(t, 1)

	h.clock.Advance(20 * time.Second)
	h.send(t, "event: ping\ndata: \n\nevent: contacts\ndata: {\"id\":7}\n\n")
	e := h.nextEvent(t)
	assert.Equal(t, solsync.ViaStream, e.Via)
	assert.JSONEq(t, `{"id":7}`, string(e.Data))

	h.clock.Advance(20 * time.Second)
	assert.Equal(t, solsync.StateStreaming, h.sub.State())
	assert.Equal(t, int32(0), h.src.polls.Load())

	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return h.src.polls.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, solsync.StatePolling, h.sub.State())
}

func TestNotifier_StreamEventsForwardedVerbatim(t *testing.T) {
	h := startNotifier(t, &fakeSource{})
	h.waitForTimers(t, 1)

	h.send(t, "event: contacts\ndata: not json\n\n")
	h.send(t, ": comment\n\nevent: other\ndata: {}\n\n")
	h.send(t, "event: contacts\ndata: {\"action\":\"deleted\",\"id\":3}\n\n")
	h.send(t, "event: contacts\n\n")

	e := h.nextEvent(t)
	assert.JSONEq(t, `{"action":"deleted","id":3}`, string(e.Data))
	e = h.nextEvent(t)
	assert.JSONEq(t, `{}`, string(e.Data), "an empty change descriptor reads as an empty object")
}

func TestNotifier_StreamErrorFallsBack(t *testing.T) {
	h := startNotifier(t, &fakeSource{openErr: errors.New("connection refused"), stats: []solsync.Stats{{Total: 2}}})

	e := h.nextEvent(t)
	assert.Equal(t, solsync.ViaPoll, e.Via)
	assert.Equal(t, solsync.StatePolling, h.sub.State())
}

func TestNotifier_StreamClosedByServerFallsBack(t *testing.T) {
	h := startNotifier(t, &fakeSource{stats: []solsync.Stats{{Total: 2}}})
	h.waitForTimers(t, 1)
	require.NoError(t, h.writer.Close())

	e := h.nextEvent(t)
	assert.Equal(t, solsync.ViaPoll, e.Via)
}

func TestNotifier_PollingEmitsOnlyOnChange(t *testing.T) {
	a := solsync.Stats{Total: 10, Processed: 4, Pending: 6}
	b := solsync.Stats{Total: 10, Processed: 5, Pending: 5}
	h := startNotifier(t, &fakeSource{openErr: errors.New("down"), stats: []solsync.Stats{a, a, b, b}})

	h.nextEvent(t)
	for want := int32(2); want <= 4; want++ {
		h.waitForTimers(t, 1)
		h.clock.Advance(15 * time.Second)
		require.Eventually(t, func() bool { return h.src.polls.Load() == want }, 2*time.Second, time.Millisecond)
		if want == 3 {
			assert.Equal(t, solsync.ViaPoll, h.nextEvent(t).Via)
		}
	}
	assert.Empty(t, h.events)
}

func TestNotifier_StopTearsDownEverything(t *testing.T) {
	h := startNotifier(t, &fakeSource{})
	h.waitForTimers(t, 1)

	h.sub.Stop()
	<-h.sub.Done()
	assert.Equal(t, solsync.StateStopped, h.sub.State())
	h.waitForTimers(t, 0)

	_, err := h.writer.Write([]byte("event: ping\n\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe, "stream body must be closed")
	h.sub.Stop()
}

func TestClient_SubscribeContacts(t *testing.T) {
	b := newFakeBackend(t)
	b.handle("GET /api/events/contacts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: ping\ndata: {}\n\nevent: contacts\ndata: {\"id\":12}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	c, _ := newTestClient(t, b)

	events := make(chan solsync.ChangeEvent, 1)
	sub := c.SubscribeContacts(context.Background(), func(e solsync.ChangeEvent) { events <- e })
	defer sub.Stop()

	select {
	case e := <-events:
		assert.Equal(t, solsync.ViaStream, e.Via)
		assert.JSONEq(t, `{"id":12}`, string(e.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
	}
	assert.Equal(t, solsync.StateStreaming, sub.State())
}

func waitDone(t *testing.T, sub *solsync.Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription still running")
	}
}

func TestNotifier_RejectedStreamStops(t *testing.T) {
	h := startNotifier(t, &fakeSource{openErr: fmt.Errorf("open: %w", solsync.ErrUnauthorized), stats: []solsync.Stats{{Total: 1}}})

	waitDone(t, h.sub)
	assert.Equal(t, solsync.StateStopped, h.sub.State())
	assert.Equal(t, int32(0), h.src.polls.Load(), "no fallback after the session was rejected")
	assert.Empty(t, h.events)
}

func TestNotifier_RejectedPollStops(t *testing.T) {
	h := startNotifier(t, &fakeSource{openErr: errors.New("down"), pollErr: solsync.ErrUnauthorized})

	waitDone(t, h.sub)
	assert.Equal(t, solsync.StateStopped, h.sub.State())
	h.clock.Advance(4 * 15 * time.Second)
	assert.Equal(t, int32(1), h.src.polls.Load())
	assert.Empty(t, h.events)
}

func TestClient_SubscribeContactsStopsOnUnauthorized(t *testing.T) {
	b := newFakeBackend(t)
	b.handle("GET /api/events/contacts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	b.handle("GET /api/contacts/stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	var hooked atomic.Int32
	c, clock := newTestClient(t, b, func(o *solsync.Options) {
		o.OnUnauthorized = func() { hooked.Add(1) }
	})

	sub := c.SubscribeContacts(context.Background(), func(solsync.ChangeEvent) {})
	defer sub.Stop()
	waitDone(t, sub)
	clock.Advance(4 * 15 * time.Second)

	assert.Equal(t, solsync.StateStopped, sub.State())
	assert.Equal(t, int32(1), hooked.Load())
	assert.Empty(t, b.requestsTo(http.MethodGet, "/api/contacts/stats"))
}
