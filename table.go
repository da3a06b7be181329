package datatable

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	DefaultMaxLimit = 9999
	DefaultDebounce = time.Second
	StatusDanger    = "danger"
)

// Options configures a Table.
type Options struct {
	Columns []Column
	// ExtraFilterableColumns can be filtered on without being displayed.
	ExtraFilterableColumns []Column
	// Identifier is the unique row property; "id" when empty. When no column
	// shows it, the first column's prop is used unless ForceIdentifier is set.
	Identifier      string
	ForceIdentifier bool
	// Sorts is the initial sort; ascending by identifier when empty.
	Sorts  []SortSpec
	Search string
	// PageSize is DefaultLimit when 0; a negative value shows every row.
	PageSize int
	MaxLimit int

	// AutoReload > 0 refreshes on a ticker, 0 fetches once on Start and a
	// negative value never fetches and uses the data as supplied.
	AutoReload time.Duration
	// DebounceWindow coalesces server-side view changes; DefaultDebounce
	// when 0, no debounce when negative.
	DebounceWindow time.Duration
	// ServerSide delegates filtering, sorting and paging to the Fetcher.
	ServerSide bool
	// SearchableObjects makes search look into JSON encoded object values.
	SearchableObjects bool

	UpdateSelectionOnRefresh ReconcileMode
	UpdateExpandedOnRefresh  ReconcileMode

	// Store persists the view config; nil keeps it in memory only.
	Store   ViewStore
	Fetcher Fetcher
	Logger  *slog.Logger
	Metrics *Metrics

	OnSelection     func(Selection)
	OnExpanded      func(Row)
	OnColumnFilters func(ColumnFiltersChange)
	OnStatus        func(Status)
	OnUpdate        func(View)
}

func (o Options) limit() int {
	switch {
	case o.PageSize == 0:
		return DefaultLimit
	case o.PageSize < 0:
		return 0
	}
	return o.PageSize
}

// Status is the display status of a table; the zero value is healthy.
type Status struct {
	Type string `json:"type,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

// View is a snapshot of what the table displays.
type View struct {
	Page []Row `json:"records"`
	// Filtered counts the rows left after filters and search.
	Filtered int `json:"filtered_count"`
	// Total counts the raw rows, or the server-side count.
	Total     int        `json:"total_count"`
	PageIndex int        `json:"page"`
	PageCount int        `json:"page_count"`
	Limit     int        `json:"limit"`
	Config    ViewConfig `json:"config"`
	Status    Status     `json:"status"`
	Loading   bool       `json:"loading"`
}

// Table is the tabular data engine behind one data table. All methods are
// safe for concurrent use; observers run after the internal lock is
// released, in the order the state changed.
type Table struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics

	mu         sync.Mutex
	outbox     []func()
	name       string
	identifier string
	sorts      []SortSpec
	columns    []Column
	view       *viewState
	filters    []*ColumnFilter
	selected   *ColumnFilter
	sel        selectionTracker

	data  []Row
	rows  []Row
	page  []Row
	count int

	status   Status
	loading  bool
	updating bool
	dirty    bool
	pending  *FetchContext
	fetchAt  time.Time

	started     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	stop        chan struct{}
	wg          sync.WaitGroup
	debounce    *time.Timer
	debounceSeq uint64
}

// New builds a table from opts. The table does nothing until Start.
func New(opts Options) (*Table, error) {
	if len(opts.Columns) == 0 {
		return nil, ErrNoColumns
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxLimit == 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	if opts.DebounceWindow == 0 {
		opts.DebounceWindow = DefaultDebounce
	}
	if opts.Identifier == "" {
		opts.Identifier = "id"
	}

	columns := slices.Clone(opts.Columns)
	identifier := opts.Identifier
	sorts := slices.Clone(opts.Sorts)
	if len(sorts) == 0 {
		exists := slices.ContainsFunc(columns, func(c Column) bool { return c.Prop == identifier })
		prop := identifier
		if !exists {
			prop = columns[0].Prop
			if !opts.ForceIdentifier {
				identifier = prop
			}
		}
		sorts = []SortSpec{{Prop: prop, Dir: SortAsc}}
	}
	for i := range columns {
		if columns[i].FlexGrow == 0 {
			columns[i].FlexGrow = 2
			if columns[i].Prop == identifier {
				columns[i].FlexGrow = 1
			}
		}
	}

	name := TableName(opts.Columns)
	logger := opts.Logger.With("table", name)
	return &Table{
		opts:       opts,
		logger:     logger,
		metrics:    opts.Metrics,
		name:       name,
		identifier: identifier,
		sorts:      sorts,
		columns:    columns,
		view: &viewState{
			key:    name,
			store:  opts.Store,
			logger: logger,
			cfg:    ViewConfig{Limit: opts.limit(), Search: opts.Search, Sorts: sorts},
		},
		sel: selectionTracker{
			identifier:    identifier,
			selectionMode: opts.UpdateSelectionOnRefresh,
			expandedMode:  opts.UpdateExpandedOnRefresh,
		},
	}, nil
}

// Start mounts the table: it loads the persisted view config, builds the
// column filters, resets observers' selection and starts the refresh cycle
// chosen by AutoReload. The context bounds every fetch of the table.
func (t *Table) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrStarted
	}
	t.started = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.view.ctx = t.ctx

	t.initViewConfigLocked()
	t.initColumnFiltersLocked()
	t.updateFilterOptionsLocked()
	t.emitSelectionLocked()

	var err error
	switch {
	case t.opts.AutoReload > 0:
		t.loading = true
		t.reloadLocked()
		t.startAutoReloadLocked(t.opts.AutoReload)
	case t.opts.AutoReload == 0:
		t.loading = true
		t.reloadLocked()
	default:
		err = t.useDataLocked()
	}
	t.unlock()
	return err
}

// Close releases the ticker, the debounce timer and cancels the context of
// an in-flight fetch. Completions arriving afterwards are ignored.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	t.stopDebounceLocked()
	if t.stop != nil {
		close(t.stop)
	}
	t.pending = nil
	t.outbox = nil
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Table) initViewConfigLocked() {
	cfg, ok := loadViewConfig(t.ctx, t.opts.Store, t.name, t.logger)
	if !ok {
		cfg = ViewConfig{}
	}
	if limit := t.opts.limit(); limit != DefaultLimit || cfg.Limit == 0 {
		cfg.Limit = limit
	}
	cfg.Limit = min(cfg.Limit, t.opts.MaxLimit)
	if cfg.Search == "" {
		cfg.Search = t.opts.Search
	}
	if len(cfg.Sorts) == 0 {
		cfg.Sorts = slices.Clone(t.sorts)
	}
	if len(cfg.Columns) == 0 {
		cfg.Columns = columnStates(t.columns)
	} else {
		for _, state := range cfg.Columns {
			for i := range t.columns {
				if t.columns[i].Prop == state.Prop {
					t.columns[i].Hidden = state.IsHidden
				}
			}
		}
	}
	t.view.update(func(c *ViewConfig) { *c = cfg })
}

func columnStates(columns []Column) []ColumnState {
	states := make([]ColumnState, len(columns))
	for i, c := range columns {
		states[i] = ColumnState{Prop: c.Prop, Name: c.Name, IsHidden: c.Hidden}
	}
	return states
}

func (t *Table) initColumnFiltersLocked() {
	var cols []Column
	for _, c := range t.columns {
		if c.Filterable {
			cols = append(cols, c)
		}
	}
	cols = append(cols, t.opts.ExtraFilterableColumns...)
	t.filters = make([]*ColumnFilter, len(cols))
	for i, c := range cols {
		t.filters[i] = newColumnFilter(c)
	}
	t.selected = nil
	if len(t.filters) > 0 {
		t.selected = t.filters[0]
	}
}

func (t *Table) updateFilterOptionsLocked() {
	for _, f := range t.filters {
		f.updateOptions(t.data)
	}
}

func (t *Table) checkIdentifiers(rows []Row) error {
	for i, row := range rows {
		if _, ok := row.Get(t.identifier); !ok {
			return &IdentifierError{Identifier: t.identifier, Index: i}
		}
	}
	return nil
}

// useDataLocked re-derives everything from the current raw rows. Rows
// without an identifier abort the cycle and keep the previous view.
func (t *Table) useDataLocked() error {
	if !t.started || t.closed || t.data == nil {
		return nil
	}
	if err := t.checkIdentifiers(t.data); err != nil {
		t.loading = false
		t.metrics.derived(t.name, err, 0, 0, 0)
		t.logger.Error("Derivation aborted", "error", err)
		return err
	}
	t.updateFilterOptionsLocked()
	t.loading = false
	t.deriveLocked()
	if t.sel.reconcileSelection(t.data) {
		t.emitSelectionLocked()
	} else if t.sel.reconcileExpanded(t.data) {
		t.emitExpandedLocked()
	}
	return nil
}

// deriveLocked runs filter, search, sort and paginate as one step. Nothing
// is derived before the first data arrives, so the restored page survives.
func (t *Table) deriveLocked() {
	if t.data == nil {
		t.emitViewLocked()
		return
	}
	if t.opts.ServerSide {
		t.rows = t.data
		t.page = t.data
		t.metrics.derived(t.name, nil, len(t.data), len(t.data), 0)
		t.emitViewLocked()
		return
	}

	cfg := t.view.get()
	rows := t.data
	excluded := 0
	if len(t.filters) > 0 {
		change := ApplyColumnFilters(rows, t.filters)
		rows = change.Data
		excluded = len(change.DataOut)
		if fn := t.opts.OnColumnFilters; fn != nil {
			t.outbox = append(t.outbox, func() { fn(change) })
		}
		if t.sel.dropMissing(rows) {
			t.emitSelectionLocked()
		}
	}
	if cfg.Search != "" && len(rows) > 0 {
		rows = Search(rows, cfg.Search, SearchColumns(t.columns), t.opts.SearchableObjects)
	}
	if sort := cfg.Sort(); t.visibleLocked(sort.Prop) {
		rows = SortRows(rows, sort)
	}
	t.rows = rows
	t.metrics.derived(t.name, nil, len(t.data), len(rows), excluded)
	t.paginateLocked()
}

// paginateLocked slices the current page, clamping an offset that points
// past the last page.
func (t *Table) paginateLocked() {
	if t.opts.ServerSide || t.data == nil {
		t.emitViewLocked()
		return
	}
	cfg := t.view.cfg
	page := cfg.Offset + 1
	if clamped := ClampPage(page, len(t.rows), cfg.Limit); clamped != page {
		t.logger.Debug("Clamping page", "page", page, "last_page", clamped)
		t.view.update(func(c *ViewConfig) { c.Offset = clamped - 1 })
		page = clamped
	}
	t.page = Paginate(t.rows, page, cfg.Limit)
	t.emitViewLocked()
}

func (t *Table) visibleLocked(prop string) bool {
	if prop == "" {
		return false
	}
	return slices.ContainsFunc(t.columns, func(c Column) bool { return c.Prop == prop && !c.Hidden })
}

func (t *Table) viewLocked() View {
	cfg := t.view.get()
	total, filtered := len(t.data), len(t.rows)
	if t.opts.ServerSide {
		total, filtered = t.count, t.count
	}
	return View{
		Page:      slices.Clone(t.page),
		Filtered:  filtered,
		Total:     total,
		PageIndex: cfg.Offset + 1,
		PageCount: PageCount(filtered, cfg.Limit),
		Limit:     cfg.Limit,
		Config:    cfg,
		Status:    t.status,
		Loading:   t.loading,
	}
}

func (t *Table) emitViewLocked() {
	if fn := t.opts.OnUpdate; fn != nil {
		v := t.viewLocked()
		t.outbox = append(t.outbox, func() { fn(v) })
	}
}

func (t *Table) emitSelectionLocked() {
	if fn := t.opts.OnSelection; fn != nil {
		sel := t.sel.selection.clone()
		t.outbox = append(t.outbox, func() { fn(sel) })
	}
	t.emitExpandedLocked()
}

func (t *Table) emitExpandedLocked() {
	if fn := t.opts.OnExpanded; fn != nil {
		row := t.sel.expanded
		t.outbox = append(t.outbox, func() { fn(row) })
	}
}

func (t *Table) setStatusLocked(s Status) {
	if s == t.status {
		return
	}
	t.status = s
	if fn := t.opts.OnStatus; fn != nil {
		t.outbox = append(t.outbox, func() { fn(s) })
	}
}

// unlock releases the lock and then notifies observers queued while it
// was held.
func (t *Table) unlock() {
	out := t.outbox
	t.outbox = nil
	t.mu.Unlock()
	for _, fn := range out {
		fn()
	}
}
