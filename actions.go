package datatable

import (
	"fmt"
	"slices"
)

// SetSearch changes the search text. Server-side tables go back to the
// first page and reload after the debounce window.
func (t *Table) SetSearch(search string) {
	t.mu.Lock()
	defer t.unlock()
	if t.view.cfg.Search == search {
		return
	}
	if t.opts.ServerSide {
		limit := min(t.opts.limit(), t.opts.MaxLimit)
		t.view.update(func(c *ViewConfig) {
			c.Search = search
			c.Offset = 0
			c.Limit = limit
		})
		t.scheduleReloadLocked()
		return
	}
	t.view.update(func(c *ViewConfig) { c.Search = search })
	t.deriveLocked()
}

// ClearSearch empties the search text.
func (t *Table) ClearSearch() { t.SetSearch("") }

// SelectFilter makes the filter of the column named name the one
// ChangeFilter acts on.
func (t *Table) SelectFilter(name string) error {
	t.mu.Lock()
	defer t.unlock()
	f := t.filterLocked(name)
	if f == nil {
		return fmt.Errorf("%w: %s", ErrUnknownFilter, name)
	}
	t.selected = f
	return nil
}

// ChangeFilter toggles raw on the selected filter: choosing the current
// value clears it and an unknown value clears it too.
func (t *Table) ChangeFilter(raw string) {
	t.mu.Lock()
	defer t.unlock()
	f := t.selected
	if f == nil {
		return
	}
	i := slices.IndexFunc(f.Options, func(o FilterOption) bool { return o.Raw == raw })
	switch {
	case i < 0:
		f.Value = nil
	case f.Value != nil && f.Value.Raw == raw:
		f.Value = nil
	default:
		opt := f.Options[i]
		f.Value = &opt
	}
	t.filterChangedLocked()
}

// SetFilter sets the filter of the column named name to raw; an empty raw
// clears it. Unlike ChangeFilter it never toggles.
func (t *Table) SetFilter(name, raw string) error {
	t.mu.Lock()
	defer t.unlock()
	f := t.filterLocked(name)
	if f == nil {
		return fmt.Errorf("%w: %s", ErrUnknownFilter, name)
	}
	if raw == "" {
		if f.Value == nil {
			return nil
		}
		f.Value = nil
		t.filterChangedLocked()
		return nil
	}
	i := slices.IndexFunc(f.Options, func(o FilterOption) bool { return o.Raw == raw })
	if i < 0 {
		if !t.opts.ServerSide {
			return fmt.Errorf("filter %s has no option %q", name, raw)
		}
		// server-side options only cover the current page
		f.Options = append(f.Options, FilterOption{Raw: raw, Formatted: raw})
		i = len(f.Options) - 1
	}
	if f.Value != nil && f.Value.Raw == raw {
		return nil
	}
	opt := f.Options[i]
	f.Value = &opt
	t.filterChangedLocked()
	return nil
}

// ClearFilters removes every filter value and reselects the first filter.
func (t *Table) ClearFilters() {
	t.mu.Lock()
	defer t.unlock()
	for _, f := range t.filters {
		f.Value = nil
	}
	t.selected = nil
	if len(t.filters) > 0 {
		t.selected = t.filters[0]
	}
	t.filterChangedLocked()
}

func (t *Table) filterLocked(name string) *ColumnFilter {
	for _, f := range t.filters {
		if f.Column.Name == name || f.Column.Prop == name {
			return f
		}
	}
	return nil
}

func (t *Table) filterChangedLocked() {
	if t.opts.ServerSide {
		t.view.update(func(c *ViewConfig) { c.Offset = 0 })
		t.scheduleReloadLocked()
		return
	}
	t.deriveLocked()
}

// ChangeSorting sorts by prop: the active sort flips direction, any other
// column starts ascending or at its previously persisted direction.
func (t *Table) ChangeSorting(prop string) error {
	t.mu.Lock()
	defer t.unlock()
	if !t.visibleLocked(prop) {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, prop)
	}
	t.applySortLocked(nextSort(t.view.cfg.Sorts, prop))
	return nil
}

// SetSort sets the sort as given.
func (t *Table) SetSort(spec SortSpec) error {
	t.mu.Lock()
	defer t.unlock()
	if !t.visibleLocked(spec.Prop) {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, spec.Prop)
	}
	if spec.Dir != SortDesc {
		spec.Dir = SortAsc
	}
	if t.view.cfg.Sort() == spec {
		return nil
	}
	t.applySortLocked(spec)
	return nil
}

func (t *Table) applySortLocked(spec SortSpec) {
	t.view.update(func(c *ViewConfig) {
		c.Sorts = promoteSort(c.Sorts, spec)
		if t.opts.ServerSide {
			c.Offset = 0
		}
	})
	if t.opts.ServerSide {
		t.scheduleReloadLocked()
		return
	}
	t.deriveLocked()
}

// SetPage moves to the 1-based page. Client-side tables clamp it to the
// last page.
func (t *Table) SetPage(page int) {
	t.mu.Lock()
	defer t.unlock()
	page = max(1, page)
	if t.view.cfg.Offset == page-1 {
		return
	}
	t.view.update(func(c *ViewConfig) { c.Offset = page - 1 })
	if t.opts.ServerSide {
		t.scheduleReloadLocked()
		return
	}
	t.paginateLocked()
}

// SetLimit changes the page size, capped at MaxLimit. Values below 1 are
// ignored. It returns the effective limit.
func (t *Table) SetLimit(n int) int {
	t.mu.Lock()
	defer t.unlock()
	if n <= 0 || n == t.view.cfg.Limit {
		return t.view.cfg.Limit
	}
	n = min(n, t.opts.MaxLimit)
	t.view.update(func(c *ViewConfig) { c.Limit = n })
	if t.opts.ServerSide {
		t.scheduleReloadLocked()
	} else {
		t.paginateLocked()
	}
	return n
}

// ToggleColumn hides or shows the column of prop. Hiding the sorted column
// moves the sort to the first visible one.
func (t *Table) ToggleColumn(prop string) error {
	t.mu.Lock()
	defer t.unlock()
	i := slices.IndexFunc(t.columns, func(c Column) bool { return c.Prop == prop })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, prop)
	}
	hide := !t.columns[i].Hidden
	if hide {
		visible := 0
		for _, c := range t.columns {
			if !c.Hidden {
				visible++
			}
		}
		if visible == 1 {
			return ErrLastColumn
		}
	}
	t.columns[i].Hidden = hide

	sorts := t.view.cfg.Sorts
	if s := t.view.cfg.Sort(); !t.visibleLocked(s.Prop) {
		for _, c := range t.columns {
			if !c.Hidden {
				sorts = promoteSort(sorts, rememberedSort(sorts, c.Prop))
				break
			}
		}
	}
	states := columnStates(t.columns)
	t.view.update(func(c *ViewConfig) {
		c.Columns = states
		c.Sorts = sorts
	})
	if t.opts.ServerSide {
		t.emitViewLocked()
		return nil
	}
	t.deriveLocked()
	return nil
}

// Select replaces the selection with rows; the first becomes expanded.
func (t *Table) Select(rows ...Row) {
	t.mu.Lock()
	defer t.unlock()
	t.sel.setSelection(Selection{Selected: slices.Clone(rows)})
	t.emitSelectionLocked()
}

// SelectIndex selects the i-th row of the current page.
func (t *Table) SelectIndex(i int) error {
	t.mu.Lock()
	defer t.unlock()
	if i < 0 || i >= len(t.page) {
		return fmt.Errorf("%w: index %d of %d", ErrRowNotFound, i, len(t.page))
	}
	t.sel.setSelection(Selection{Selected: []Row{t.page[i]}})
	t.emitSelectionLocked()
	return nil
}

// SelectID selects the raw row whose identifier equals id.
func (t *Table) SelectID(id any) error {
	t.mu.Lock()
	defer t.unlock()
	row, ok := t.sel.contains(t.data, id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrRowNotFound, id)
	}
	t.sel.setSelection(Selection{Selected: []Row{row}})
	t.emitSelectionLocked()
	return nil
}

// Deselect clears the selection and the expanded row.
func (t *Table) Deselect() {
	t.mu.Lock()
	defer t.unlock()
	if !t.sel.selection.HasSelection() && t.sel.expanded == nil {
		return
	}
	t.sel.setSelection(Selection{})
	t.emitSelectionLocked()
}

// ToggleExpanded expands row, or collapses it when it is already expanded.
func (t *Table) ToggleExpanded(row Row) {
	t.mu.Lock()
	defer t.unlock()
	if t.sel.expanded != nil && sameValue(t.sel.id(t.sel.expanded), t.sel.id(row)) {
		t.sel.expanded = nil
	} else {
		t.sel.expanded = row
	}
	t.emitExpandedLocked()
}

func (t *Table) Selection() Selection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sel.selection.clone()
}

func (t *Table) Expanded() Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sel.expanded
}

func (t *Table) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Table) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// View returns the current page and its counts.
func (t *Table) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *Table) Config() ViewConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view.get()
}

// Columns returns every column with its current visibility.
func (t *Table) Columns() []Column {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.columns)
}

func (t *Table) VisibleColumns() []Column {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Column
	for _, c := range t.columns {
		if !c.Hidden && !c.Invisible {
			out = append(out, c)
		}
	}
	return out
}

// Filters returns a copy of the column filters.
func (t *Table) Filters() []ColumnFilter {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ColumnFilter, len(t.filters))
	for i, f := range t.filters {
		out[i] = f.clone()
	}
	return out
}

// SelectedFilter returns the filter ChangeFilter acts on.
func (t *Table) SelectedFilter() (ColumnFilter, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.selected == nil {
		return ColumnFilter{}, false
	}
	return t.selected.clone(), true
}

// Name is the persistence key of the table.
func (t *Table) Name() string { return t.name }

func (t *Table) Identifier() string { return t.identifier }

// RowID returns the identifier value of row.
func (t *Table) RowID(row Row) (any, error) {
	v, ok := row.Get(t.identifier)
	if !ok {
		return nil, &IdentifierError{Identifier: t.identifier}
	}
	return v, nil
}
