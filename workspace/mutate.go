package workspace

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"solsync"
	"solsync/common"
)

// Select loads a record and makes it the target of SaveNote. Non-admin users
// cannot edit a processed record, so its draft is discarded.
func (w *Workspace) Select(ctx context.Context, id int64) (solsync.Record, error) {
	r, err := w.backend.GetContact(ctx, id)
	if err != nil {
		return solsync.Record{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.admin && r.Processed() {
		delete(w.drafts, id)
	}
	w.selected = &r
	return r, nil
}

// Selected returns the selected record.
func (w *Workspace) Selected() (solsync.Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected == nil {
		return solsync.Record{}, false
	}
	return *w.selected, true
}

// Deselect clears the selection. Drafts are kept.
func (w *Workspace) Deselect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selected = nil
}

// NoteText is the text to show in the editor for the selected record: its
// draft if one exists, otherwise the saved note.
func (w *Workspace) NoteText() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected == nil {
		return ""
	}
	if d, ok := w.drafts[w.selected.ID]; ok {
		return d
	}
	return w.selected.Observacao
}

// EditDraft records unsaved note text for a record. Text equal to the saved
// note drops the draft.
func (w *Workspace) EditDraft(id int64, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	saved, processed, known := w.savedNoteLocked(id)
	if known && processed && !w.admin {
		return common.ErrReadOnly
	}
	if known && text == saved {
		delete(w.drafts, id)
		return nil
	}
	w.drafts[id] = text
	return nil
}

// Draft returns the unsaved text of a record.
func (w *Workspace) Draft(id int64) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.drafts[id]
	return d, ok
}

// IsPending reports whether a record on the current page should be shown as
// pending: not yet processed, or carrying a draft that differs from its
// saved note.
func (w *Workspace) IsPending(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.findLocked(id)
	if i < 0 {
		return false
	}
	r := w.list.Items[i]
	return !r.Processed() || w.changedLocked(r)
}

func (w *Workspace) changedLocked(r solsync.Record) bool {
	d, ok := w.drafts[r.ID]
	return ok && d != r.Observacao
}

// savedNoteLocked looks a record up in the selection, then the current page.
func (w *Workspace) savedNoteLocked(id int64) (note string, processed, known bool) {
	if w.selected != nil && w.selected.ID == id {
		return w.selected.Observacao, w.selected.Processed(), true
	}
	if i := w.findLocked(id); i >= 0 {
		r := w.list.Items[i]
		return r.Observacao, r.Processed(), true
	}
	return "", false, false
}

// DisplayCounts returns the stats with processed records that carry a
// changed draft counted as pending.
func (w *Workspace) DisplayCounts() solsync.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	var bump int64
	for _, r := range w.list.Items {
		if r.Processed() && w.changedLocked(r) {
			bump++
		}
	}
	s := w.stats
	s.Pending = max(0, s.Pending+bump)
	s.Processed = max(0, s.Processed-bump)
	return s
}

// SaveNote saves text as the selected record's note. Empty or unchanged
// text is rejected without a request. On success the record takes the
// backend's note and processed time, its draft is dropped and the page and
// stats are reloaded past the cache.
func (w *Workspace) SaveNote(ctx context.Context, text string) (solsync.Record, error) {
	w.mu.Lock()
	if w.selected == nil {
		w.mu.Unlock()
		return solsync.Record{}, common.ErrNoSelection
	}
	sel := *w.selected
	w.mu.Unlock()

	if !w.admin && sel.Processed() {
		return solsync.Record{}, common.ErrReadOnly
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == strings.TrimSpace(sel.Observacao) {
		return solsync.Record{}, common.ErrNoChanges
	}
	if trimmed == "" {
		return solsync.Record{}, common.ErrEmptyNote
	}

	updated, err := w.backend.UpdateContact(ctx, sel.ID, solsync.ContactUpdate{Observacao: text})
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		return solsync.Record{}, err
	}

	w.mu.Lock()
	sel.Observacao = updated.Observacao
	sel.ProcessedAt = updated.ProcessedAt
	if w.selected != nil && w.selected.ID == sel.ID {
		w.selected = &sel
	}
	if i := w.findLocked(sel.ID); i >= 0 {
		w.list.Items[i].Observacao = updated.Observacao
		w.list.Items[i].ProcessedAt = updated.ProcessedAt
	}
	delete(w.drafts, sel.ID)
	w.mu.Unlock()

	w.backend.InvalidateContacts()
	if err := w.Load(ctx, true); err != nil {
		w.logger.Warn("reload after save failed", zap.Int64("id", sel.ID), zap.Error(err))
	}
	return sel, nil
}

// Delete removes a record. The page and stats are patched before the request
// goes out: the record disappears, later sequence numbers close the gap and
// totals drop by one, even for a record that is not on the current page. A
// failed request leaves the patch in place and returns the error; the next
// reload reconciles. A successful one reloads past the cache.
func (w *Workspace) Delete(ctx context.Context, id int64) error {
	if !w.admin {
		return common.ErrReadOnly
	}

	w.mu.Lock()
	w.patchDeleteLocked(id)
	w.mu.Unlock()

	if err := w.backend.DeleteContact(ctx, id); err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		w.logger.Warn("delete failed, keeping local changes until next reload", zap.Int64("id", id), zap.Error(err))
		return err
	}
	return w.Load(ctx, true)
}

func (w *Workspace) patchDeleteLocked(id int64) {
	if w.selected != nil && w.selected.ID == id {
		w.selected = nil
	}
	delete(w.drafts, id)

	w.stats.Total = max(0, w.stats.Total-1)

	i := w.findLocked(id)
	if i < 0 {
		// Off the current page: status unknown, count it as pending.
		w.stats.Pending = max(0, w.stats.Pending-1)
		return
	}
	removed := w.list.Items[i]
	w.list = w.list.Clone()
	w.list.Items = append(w.list.Items[:i], w.list.Items[i+1:]...)
	if removed.Numero != 0 {
		for j := range w.list.Items {
			if w.list.Items[j].Numero > removed.Numero {
				w.list.Items[j].Numero--
			}
		}
	}

	info := &w.list.PageInfo
	info.Total = max(0, info.Total-1)
	per := max(1, info.PerPage)
	info.LastPage = max(1, int(math.Ceil(float64(info.Total)/float64(per))))

	if removed.Processed() {
		w.stats.Processed = max(0, w.stats.Processed-1)
	} else {
		w.stats.Pending = max(0, w.stats.Pending-1)
	}
}
