// Package workspace is the record-review view model: the current page of
// contacts with its filters, aggregate counters, the selected record and
// unsaved note drafts. Mutations are applied locally first and reconciled
// with a forced reload.
package workspace

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solsync"
	"solsync/common"
	"solsync/internal/logging"
)

// Backend is what a Workspace needs from the API client. *solsync.Client
// implements it.
type Backend interface {
	ListContacts(ctx context.Context, q solsync.ListQuery) (solsync.PagedResult, error)
	ContactsStats(ctx context.Context, force bool) (solsync.Stats, error)
	ContactsSnapshot(ctx context.Context, q solsync.ListQuery) (solsync.PagedResult, bool)
	StatsSnapshot(ctx context.Context) (solsync.Stats, bool)
	GetContact(ctx context.Context, id int64) (solsync.Record, error)
	UpdateContact(ctx context.Context, id int64, u solsync.ContactUpdate) (solsync.Record, error)
	DeleteContact(ctx context.Context, id int64) error
	InvalidateContacts()
	Script(ctx context.Context) (solsync.ScriptSettings, error)
	ScriptSnapshot(ctx context.Context) (solsync.ScriptSettings, bool)
	SubscribeContacts(ctx context.Context, onChange func(solsync.ChangeEvent)) *solsync.Subscription
}

var _ Backend = (*solsync.Client)(nil)

// DefaultRefreshInterval is the AutoRefresh period used when none is given.
const DefaultRefreshInterval = 30 * time.Second

// Options configures a Workspace.
type Options struct {
	// Admin users may filter by status, edit processed records and delete.
	Admin   bool
	PerPage int
	Logger  *zap.Logger
	// Clock drives AutoRefresh; nil means the real clock.
	Clock   clockwork.Clock

	// OnReload runs after Watch reloaded the workspace for a change.
	OnReload func(solsync.ChangeEvent)
}

// Workspace is safe for concurrent use; change notifications reload it from
// the notifier's goroutine.
type Workspace struct {
	backend  Backend
	admin    bool
	logger   *zap.Logger
	clock    clockwork.Clock
	onReload func(solsync.ChangeEvent)

	mu       sync.Mutex
	page     int
	perPage  int
	query    string
	status   solsync.StatusFilter
	list     solsync.PagedResult
	stats    solsync.Stats
	script   string
	selected *solsync.Record
	drafts   map[int64]string
	lastErr  error
}

// New creates a Workspace positioned on page 1 with no filters.
func New(backend Backend, opts Options) *Workspace {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = solsync.DefaultPerPage
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Workspace{
		backend:  backend,
		clock:    clock,
		admin:    opts.Admin,
		logger:   logging.OrNop(opts.Logger),
		onReload: opts.OnReload,
		page:     1,
		perPage:  perPage,
		drafts:   make(map[int64]string),
	}
}

func (w *Workspace) currentQueryLocked() solsync.ListQuery {
	return solsync.ListQuery{Page: w.page, PerPage: w.perPage, Query: strings.TrimSpace(w.query), Status: w.status}
}

// Query returns the listing the workspace is positioned on.
func (w *Workspace) Query() solsync.ListQuery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentQueryLocked()
}

// Result returns a copy of the current page.
func (w *Workspace) Result() solsync.PagedResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.list.Clone()
}

// Stats returns the aggregate counters as last loaded or patched.
func (w *Workspace) Stats() solsync.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Script is the approach script shown next to the records.
func (w *Workspace) Script() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.script
}

// LastError is the error of the most recent failed load or mutation.
func (w *Workspace) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// SetPage moves to page n. Call Load afterwards.
func (w *Workspace) SetPage(n int) error {
	if n < 1 {
		return common.ErrInvalidPage
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.page = n
	return nil
}

// SetQuery changes the free-text search and returns to page 1.
func (w *Workspace) SetQuery(q string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.query = q
	w.page = 1
}

// SetFilter changes the status filter and returns to page 1. Non-admin users
// always see every status.
func (w *Workspace) SetFilter(s solsync.StatusFilter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.admin {
		s = solsync.StatusAll
	}
	w.status = s
	w.page = 1
}

// Hydrate paints persisted snapshots before the first network round-trip.
// A list already showing the same page with items, stats with a non-zero
// total, or a non-empty script are left alone.
func (w *Workspace) Hydrate(ctx context.Context) {
	w.mu.Lock()
	q := w.currentQueryLocked()
	keepList := w.list.PageInfo.CurrentPage == q.Page && len(w.list.Items) > 0
	keepStats := w.stats.Total != 0
	keepScript := w.script != ""
	w.mu.Unlock()

	var (
		list       solsync.PagedResult
		stats      solsync.Stats
		script     solsync.ScriptSettings
		haveList   bool
		haveStats  bool
		haveScript bool
	)
	if !keepList {
		list, haveList = w.backend.ContactsSnapshot(ctx, q)
	}
	if !keepStats {
		stats, haveStats = w.backend.StatsSnapshot(ctx)
	}
	if !keepScript {
		script, haveScript = w.backend.ScriptSnapshot(ctx)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if haveList && w.currentQueryLocked() == q {
		w.list = list
	}
	if haveStats && w.stats.Total == 0 {
		w.stats = stats
	}
	if haveScript && w.script == "" {
		w.script = script.Script
	}
}

// Load fetches the current page, the stats and the script concurrently. A
// stats or script failure keeps the previous value; a list failure keeps the
// previous page and is returned. Landing on an empty page past the first
// steps back a page.
func (w *Workspace) Load(ctx context.Context, force bool) error {
	for {
		w.mu.Lock()
		q := w.currentQueryLocked()
		w.mu.Unlock()
		q.Force = force

		var (
			list      solsync.PagedResult
			stats     solsync.Stats
			statsErr  error
			script    solsync.ScriptSettings
			scriptErr error
		)
		var g errgroup.Group
		g.Go(func() error {
			var err error
			list, err = w.backend.ListContacts(ctx, q)
			return err
		})
		g.Go(func() error {
			stats, statsErr = w.backend.ContactsStats(ctx, force)
			return nil
		})
		g.Go(func() error {
			script, scriptErr = w.backend.Script(ctx)
			return nil
		})
		err := g.Wait()

		w.mu.Lock()
		if statsErr != nil {
			w.logger.Warn("stats load failed, keeping previous counters", zap.Error(statsErr))
		} else {
			w.stats = stats
		}
		if scriptErr != nil {
			w.logger.Debug("script load failed, keeping previous text", zap.Error(scriptErr))
		} else {
			w.script = script.Script
		}
		if err != nil {
			w.lastErr = err
			w.mu.Unlock()
			return err
		}
		q.Force = false
		if w.currentQueryLocked() != q {
			// Moved elsewhere while loading; that load owns the page.
			w.mu.Unlock()
			return nil
		}
		if len(list.Items) == 0 && q.Page > 1 {
			w.page = q.Page - 1
			w.mu.Unlock()
			w.logger.Debug("page empty, stepping back", zap.Int("page", q.Page))
			continue
		}
		w.list = list
		w.lastErr = nil
		w.mu.Unlock()
		return nil
	}
}

// LastPage is the larger of the page count the backend reported and the one
// implied by the stats total.
func (w *Workspace) LastPage() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPageLocked()
}

func (w *Workspace) lastPageLocked() int {
	per := w.list.PageInfo.PerPage
	if per <= 0 {
		per = w.perPage
	}
	fromStats := int(math.Ceil(float64(w.stats.Total) / float64(per)))
	return max(w.list.PageInfo.LastPage, fromStats, 1)
}

// PrefetchNext warms the cache with the following page, if there is one.
func (w *Workspace) PrefetchNext(ctx context.Context) error {
	w.mu.Lock()
	q := w.currentQueryLocked()
	last := w.lastPageLocked()
	w.mu.Unlock()
	if q.Page >= last {
		return nil
	}
	q.Page++
	_, err := w.backend.ListContacts(ctx, q)
	return err
}

// Watch reloads the workspace whenever the backend reports a change, unless
// the selected record has an unsaved draft.
func (w *Workspace) Watch(ctx context.Context) *solsync.Subscription {
	return w.backend.SubscribeContacts(ctx, func(e solsync.ChangeEvent) {
		if w.hasSelectedDraft() {
			w.logger.Debug("change ignored while editing", zap.String("via", e.Via))
			return
		}
		if err := w.Load(ctx, true); err != nil {
			w.logger.Warn("reload after change failed", zap.Error(err))
			return
		}
		if w.onReload != nil {
			w.onReload(e)
		}
	})
}

// AutoRefresh reloads past the cache every interval (DefaultRefreshInterval
// when zero) until ctx ends or stop is called. A tick is skipped while the
// selected record has an unsaved draft.
func (w *Workspace) AutoRefresh(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ticker := w.clock.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if w.hasSelectedDraft() {
					w.logger.Debug("refresh skipped while editing")
					continue
				}
				if err := w.Load(ctx, true); err != nil && ctx.Err() == nil {
					w.logger.Warn("periodic reload failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Workspace) hasSelectedDraft() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected == nil {
		return false
	}
	d, ok := w.drafts[w.selected.ID]
	return ok && d != w.selected.Observacao
}

func (w *Workspace) findLocked(id int64) int {
	for i, r := range w.list.Items {
		if r.ID == id {
			return i
		}
	}
	return -1
}
