package datatable

import (
	"context"
	"time"
)

// SetData replaces the raw rows and re-derives the view. A nil slice means
// no data yet; pass an empty slice for an empty table.
func (t *Table) SetData(rows []Row) error {
	t.mu.Lock()
	defer t.unlock()
	t.data = rows
	return t.useDataLocked()
}

// Refresh starts a refresh cycle. It is a no-op while a fetch is in flight.
func (t *Table) Refresh() {
	t.mu.Lock()
	defer t.unlock()
	if t.closed || !t.started {
		return
	}
	t.loading = true
	t.reloadLocked()
}

// Sync runs a refresh cycle, bypassing the debounce window, and waits until
// it completes. A fetch already in flight is awaited first.
func (t *Table) Sync(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return ErrClosed
		}
		if !t.started {
			t.mu.Unlock()
			return ErrNotStarted
		}
		t.stopDebounceLocked()
		inFlight := t.pending != nil
		if !inFlight {
			t.loading = true
			t.reloadLocked()
		}
		fc := t.pending
		t.unlock()
		if fc == nil {
			return nil
		}

		select {
		case <-fc.finished:
		case <-ctx.Done():
			return ctx.Err()
		case <-fc.ctx.Done():
			return ErrClosed
		}
		if !inFlight {
			return fc.resultErr()
		}
	}
}

// reloadLocked hands a new FetchContext to the fetcher. Without a fetcher
// the cycle completes at once with the current data.
func (t *Table) reloadLocked() {
	if t.closed {
		return
	}
	if t.updating {
		t.metrics.fetch(t.name, "skipped")
		t.logger.Debug("Refresh skipped, fetch in flight", "fetch_id", t.pending.ID)
		return
	}
	t.setStatusLocked(Status{})
	fc := newFetchContext(t.ctx, t.view.get(), t.appliedFiltersLocked(), t.complete)
	t.updating = true
	t.dirty = false
	t.pending = fc
	t.fetchAt = time.Now()
	t.metrics.fetch(t.name, "started")
	t.logger.Debug("Fetching data",
		"fetch_id", fc.ID,
		"offset", fc.Offset,
		"limit", fc.Limit,
		"search", fc.Search,
		"sort", fc.Sort,
	)
	if f := t.opts.Fetcher; f != nil {
		t.outbox = append(t.outbox, func() { f.Fetch(fc) })
		return
	}
	t.outbox = append(t.outbox, func() { _ = fc.Done() })
}

func (t *Table) appliedFiltersLocked() map[string]string {
	var out map[string]string
	for _, f := range t.filters {
		if f.Value == nil {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[f.Column.Prop] = f.Value.Raw
	}
	return out
}

// complete applies the outcome of fc. Stale contexts and completions after
// Close are ignored.
func (t *Table) complete(fc *FetchContext) error {
	t.mu.Lock()
	defer t.unlock()
	if t.closed || t.pending != fc {
		t.logger.Debug("Ignoring stale fetch completion", "fetch_id", fc.ID)
		return nil
	}
	t.pending = nil
	t.updating = false
	t.metrics.fetchDone(t.name, t.fetchAt)

	rows, hasRows, count, hasCount, fetchErr := fc.outcome()
	if fc.ErrorConfig.DisplayError {
		t.metrics.fetch(t.name, "failed")
		t.logger.Error("Failed to load data", "fetch_id", fc.ID, "error", fetchErr)
		t.setStatusLocked(Status{Type: StatusDanger, Msg: "Failed to load data."})
	} else {
		t.metrics.fetch(t.name, "completed")
	}
	if hasRows {
		t.data = rows
	}
	if hasCount {
		t.count = count
	}
	if fc.ErrorConfig.ResetData {
		t.data = []Row{}
		t.count = 0
	}
	clamped := t.opts.ServerSide && (hasCount || fc.ErrorConfig.ResetData) && t.clampServerPageLocked()
	err := t.useDataLocked()
	switch {
	case clamped:
		t.triggerLocked()
	case t.dirty:
		t.reloadLocked()
	}
	return err
}

// clampServerPageLocked moves a server-side page that lies past the reported
// count back to the last page. It reports whether the offset changed.
func (t *Table) clampServerPageLocked() bool {
	cfg := t.view.cfg
	page := cfg.Offset + 1
	clamped := ClampPage(page, t.count, cfg.Limit)
	if clamped == page {
		return false
	}
	t.logger.Debug("Clamping page", "page", page, "last_page", clamped, "count", t.count)
	t.view.update(func(c *ViewConfig) { c.Offset = clamped - 1 })
	return true
}

// scheduleReloadLocked debounces reloads caused by server-side view changes.
// A change landing while a fetch is in flight is fetched again once that
// fetch completes.
func (t *Table) scheduleReloadLocked() {
	if t.opts.DebounceWindow < 0 {
		t.triggerLocked()
		return
	}
	t.stopDebounceLocked()
	seq := t.debounceSeq
	t.debounce = time.AfterFunc(t.opts.DebounceWindow, func() {
		t.mu.Lock()
		if t.closed || seq != t.debounceSeq {
			t.mu.Unlock()
			return
		}
		t.debounce = nil
		t.triggerLocked()
		t.unlock()
	})
}

func (t *Table) triggerLocked() {
	if t.updating {
		t.dirty = true
	}
	t.loading = true
	t.reloadLocked()
}

func (t *Table) stopDebounceLocked() {
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
	t.debounceSeq++
}

func (t *Table) startAutoReloadLocked(interval time.Duration) {
	t.stop = make(chan struct{})
	stop := t.stop
	ticker := time.NewTicker(interval)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.mu.Lock()
				t.reloadLocked()
				t.unlock()
			case <-stop:
				return
			}
		}
	}()
}
