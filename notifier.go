package solsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"solsync/internal/logging"
	"solsync/internal/metrics"
	"solsync/internal/sse"
)

// NotifierState is the transport a subscription is currently using.
type NotifierState int32

const (
	StateStreaming NotifierState = iota
	StatePolling
	StateStopped
)

func (s NotifierState) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Event names on the contacts stream.
const (
	eventContacts = "contacts"
	eventPing     = "ping"
)

// Values of ChangeEvent.Via.
const (
	ViaStream = "stream"
	ViaPoll   = "poll"
)

// ChangeEvent tells a subscriber that contacts changed server-side. Data is
// the stream's change descriptor, verbatim; it is empty for poll-detected
// changes.
type ChangeEvent struct {
	Via  string          `json:"via"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NotifierOptions configures a ChangeNotifier. Source is required.
type NotifierOptions struct {
	Source          ChangeSource
	Clock           clockwork.Clock
	Logger          *zap.Logger
	Metrics         *metrics.Recorder
	PollInterval    time.Duration
	WatchdogTimeout time.Duration
}

// ChangeNotifier watches the backend for contact changes. It listens on the
// event stream and degrades, once and for good, to polling stats when the
// stream errors or stays silent past the watchdog timeout.
type ChangeNotifier struct {
	src             ChangeSource
	clock           clockwork.Clock
	logger          *zap.Logger
	metrics         *metrics.Recorder
	pollInterval    time.Duration
	watchdogTimeout time.Duration
}

// NewChangeNotifier creates a ChangeNotifier. Zero intervals take the
// package defaults.
func NewChangeNotifier(opts NotifierOptions) *ChangeNotifier {
	n := &ChangeNotifier{
		src:             opts.Source,
		clock:           opts.Clock,
		logger:          logging.OrNop(opts.Logger),
		metrics:         opts.Metrics,
		pollInterval:    opts.PollInterval,
		watchdogTimeout: opts.WatchdogTimeout,
	}
	if n.clock == nil {
		n.clock = clockwork.NewRealClock()
	}
	setDuration(&n.pollInterval, DefaultPollInterval)
	setDuration(&n.watchdogTimeout, DefaultWatchdogTimeout)
	return n
}

// SubscribeContacts starts a ChangeNotifier over this client's endpoints.
func (c *Client) SubscribeContacts(ctx context.Context, onChange func(ChangeEvent)) *Subscription {
	n := NewChangeNotifier(NotifierOptions{
		Source:          c,
		Clock:           c.clock,
		Logger:          c.logger,
		Metrics:         c.metrics,
		PollInterval:    c.cfg.PollInterval,
		WatchdogTimeout: c.cfg.WatchdogTimeout,
	})
	return n.Subscribe(ctx, onChange)
}

// Subscription is a running notifier. Transport errors never reach the
// subscriber; they only move it from streaming to polling. An authorization
// failure stops it.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
}

// Stop closes the active transport and waits until no callback can run.
// It is safe to call more than once.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// State reports the transport in use.
func (s *Subscription) State() NotifierState {
	return NotifierState(s.state.Load())
}

func (s *Subscription) setState(st NotifierState) {
	s.state.Store(int32(st))
}

// Subscribe starts watching. onChange is called from the subscription's
// goroutine, never concurrently with itself. Cancelling ctx has the same
// effect as Stop.
func (n *ChangeNotifier) Subscribe(ctx context.Context, onChange func(ChangeEvent)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	sub.setState(StateStreaming)
	go func() {
		defer close(sub.done)
		defer cancel()
		defer sub.setState(StateStopped)
		if n.stream(ctx, onChange) != streamFallback {
			return
		}
		sub.setState(StatePolling)
		n.metrics.Fallback()
		n.poll(ctx, onChange)
	}()
	return sub
}

type streamOutcome int

const (
	streamDone streamOutcome = iota
	streamFallback
	streamUnauthorized
)

// stream forwards change events until ctx ends, the session is rejected, or
// the stream fails or goes quiet (streamFallback).
func (n *ChangeNotifier) stream(ctx context.Context, onChange func(ChangeEvent)) streamOutcome {
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	body, err := n.src.OpenChangeStream(streamCtx)
	if err != nil {
		if ctx.Err() != nil {
			return streamDone
		}
		if errors.Is(err, ErrUnauthorized) {
			n.logger.Warn("change stream rejected, stopping notifier")
			return streamUnauthorized
		}
		n.logger.Info("change stream unavailable, polling", zap.Error(err))
		return streamFallback
	}
	defer body.Close()

	events := make(chan sse.Event)
	readErr := make(chan error, 1)
	go func() {
		readErr <- sse.Read(body, func(e sse.Event) bool {
			select {
			case events <- e:
				return true
			case <-streamCtx.Done():
				return false
			}
		})
	}()
	// Closing the body unblocks the reader.
	go func() {
		<-streamCtx.Done()
		body.Close()
	}()

	watchdog := n.clock.NewTimer(n.watchdogTimeout)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return streamDone
		case e := <-events:
			switch e.Event {
			case eventPing:
				if !watchdog.Stop() {
					select {
					case <-watchdog.Chan():
					default:
					}
				}
				watchdog.Reset(n.watchdogTimeout)
			case eventContacts:
				data := []byte(e.Data)
				if len(data) == 0 {
					data = []byte("{}")
				}
				if !json.Valid(data) {
					n.logger.Debug("dropping malformed change event", zap.String("data", e.Data))
					continue
				}
				onChange(ChangeEvent{Via: ViaStream, Data: json.RawMessage(data)})
			}
		case err := <-readErr:
			if ctx.Err() != nil {
				return streamDone
			}
			if errors.Is(err, io.EOF) {
				n.logger.Info("change stream closed by server, polling")
			} else {
				n.logger.Warn("change stream failed, polling", zap.Error(err))
			}
			return streamFallback
		case <-watchdog.Chan():
			n.logger.Warn("no keep-alive on change stream, polling", zap.Duration("timeout", n.watchdogTimeout))
			return streamFallback
		}
	}
}

// poll checks stats right away and then every pollInterval, emitting a
// change whenever the triple differs from the last one seen. It returns when
// ctx ends or the session is rejected.
func (n *ChangeNotifier) poll(ctx context.Context, onChange func(ChangeEvent)) {
	var last *Stats
	// check reports false once polling must stop.
	check := func() bool {
		n.metrics.Poll()
		s, err := n.src.PollStats(ctx)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				n.logger.Warn("stats poll rejected, stopping notifier")
				return false
			}
			if ctx.Err() == nil {
				n.logger.Debug("stats poll failed", zap.Error(err))
			}
			return true
		}
		if last != nil && *last == s {
			return true
		}
		last = &s
		onChange(ChangeEvent{Via: ViaPoll})
		return true
	}

	if !check() {
		return
	}
	ticker := n.clock.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !check() {
				return
			}
		}
	}
}
