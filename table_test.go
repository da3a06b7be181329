package datatable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peopleColumns = []Column{
	{Name: "Id", Prop: "id", Sortable: true},
	{Name: "Name", Prop: "name", Sortable: true},
	{Name: "Kind", Prop: "kind", Filterable: true},
}

func people(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		kind := "even"
		if i%2 == 1 {
			kind = "odd"
		}
		rows[i] = Row{"id": i, "name": fmt.Sprintf("row %02d", i), "kind": kind}
	}
	return rows
}

// startTable starts a table that uses the rows as supplied.
func startTable(t *testing.T, opts Options, rows []Row) *Table {
	t.Helper()
	if opts.Columns == nil {
		opts.Columns = peopleColumns
	}
	if opts.AutoReload == 0 {
		opts.AutoReload = -1
	}
	tbl, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.SetData(rows))
	require.NoError(t, tbl.Start(context.Background()))
	return tbl
}

// heldFetches collects every FetchContext without completing it.
type heldFetches struct {
	mu  sync.Mutex
	fcs []*FetchContext
}

func (h *heldFetches) Fetch(fc *FetchContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fcs = append(h.fcs, fc)
}

func (h *heldFetches) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fcs)
}

func (h *heldFetches) get(i int) *FetchContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fcs[i]
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, ErrViewNotFound
	}
	return b, nil
}

func (s *memStore) Save(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = blob
	return nil
}

func TestNew(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoColumns)

	tbl, err := New(Options{Columns: peopleColumns})
	require.NoError(t, err)
	assert.Equal(t, "id", tbl.Identifier())
	assert.Equal(t, SortSpec{Prop: "id", Dir: SortAsc}, tbl.Config().Sort())
	assert.Equal(t, 1, tbl.Columns()[0].FlexGrow)
	assert.Equal(t, 2, tbl.Columns()[1].FlexGrow)

	cols := []Column{{Name: "Path", Prop: "path"}, {Name: "Size", Prop: "size"}}
	tbl, err = New(Options{Columns: cols})
	require.NoError(t, err)
	assert.Equal(t, "path", tbl.Identifier(), "first column stands in for a missing identifier")

	tbl, err = New(Options{Columns: cols, Identifier: "uuid", ForceIdentifier: true})
	require.NoError(t, err)
	assert.Equal(t, "uuid", tbl.Identifier())
	assert.Equal(t, SortSpec{Prop: "path", Dir: SortAsc}, tbl.Config().Sort())
}

func TestStartTwice(t *testing.T) {
	tbl := startTable(t, Options{}, people(3))
	require.ErrorIs(t, tbl.Start(context.Background()), ErrStarted)

	tbl.Close()
	require.ErrorIs(t, tbl.Start(context.Background()), ErrClosed)
}

func TestClientDerivation(t *testing.T) {
	tbl := startTable(t, Options{}, people(25))

	v := tbl.View()
	assert.Len(t, v.Page, 10)
	assert.Equal(t, 25, v.Total)
	assert.Equal(t, 25, v.Filtered)
	assert.Equal(t, 1, v.PageIndex)
	assert.Equal(t, 3, v.PageCount)
	assert.Equal(t, 0, v.Page[0]["id"])

	tbl.SetPage(3)
	v = tbl.View()
	assert.Equal(t, []any{20, 21, 22, 23, 24}, ids(v.Page))

	require.NoError(t, tbl.SetData(people(25)))
	assert.Equal(t, v.Page, tbl.View().Page, "re-deriving the same data is idempotent")
}

func TestStalePageIsClamped(t *testing.T) {
	tbl := startTable(t, Options{}, people(25))
	tbl.SetPage(3)
	require.Equal(t, 2, tbl.Config().Offset)

	tbl.SetSearch(`"row 0"`)
	v := tbl.View()
	assert.Equal(t, 10, v.Filtered)
	assert.Equal(t, 1, v.PageIndex)
	assert.Len(t, v.Page, 10)
	assert.Equal(t, 0, tbl.Config().Offset, "clamped offset is written back")

	tbl.SetPage(99)
	assert.Equal(t, 1, tbl.View().PageIndex)
}

func TestSetLimit(t *testing.T) {
	tbl := startTable(t, Options{MaxLimit: 20}, people(25))

	assert.Equal(t, 5, tbl.SetLimit(5))
	assert.Len(t, tbl.View().Page, 5)
	assert.Equal(t, 5, tbl.View().PageCount)

	assert.Equal(t, 5, tbl.SetLimit(0), "non-positive limits are ignored")
	assert.Equal(t, 20, tbl.SetLimit(500))
	assert.Len(t, tbl.View().Page, 20)
}

func TestUnlimitedPageSize(t *testing.T) {
	tbl := startTable(t, Options{PageSize: -1}, people(25))
	v := tbl.View()
	assert.Len(t, v.Page, 25)
	assert.Equal(t, 1, v.PageCount)
	assert.Equal(t, 0, v.Limit)
}

func TestColumnFilters(t *testing.T) {
	var changes []ColumnFiltersChange
	tbl := startTable(t, Options{
		OnColumnFilters: func(c ColumnFiltersChange) { changes = append(changes, c) },
	}, people(25))

	filters := tbl.Filters()
	require.Len(t, filters, 1)
	assert.Equal(t, []FilterOption{{Raw: "even", Formatted: "even"}, {Raw: "odd", Formatted: "odd"}}, filters[0].Options)

	require.NoError(t, tbl.SelectFilter("Kind"))
	tbl.ChangeFilter("odd")
	assert.Equal(t, 12, tbl.View().Filtered)
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Len(t, last.Data, 12)
	assert.Len(t, last.DataOut, 13)
	assert.Equal(t, "odd", last.Filters[0].Value.Raw)

	tbl.ChangeFilter("odd")
	assert.Equal(t, 25, tbl.View().Filtered, "choosing the active value clears it")

	tbl.ChangeFilter("odd")
	tbl.ChangeFilter("nope")
	assert.Equal(t, 25, tbl.View().Filtered, "unknown value clears the filter")

	require.NoError(t, tbl.SetFilter("kind", "even"))
	require.NoError(t, tbl.SetFilter("kind", "even"))
	assert.Equal(t, 13, tbl.View().Filtered, "SetFilter never toggles")
	require.Error(t, tbl.SetFilter("kind", "nope"))
	require.ErrorIs(t, tbl.SetFilter("size", "1"), ErrUnknownFilter)
	require.ErrorIs(t, tbl.SelectFilter("size"), ErrUnknownFilter)

	tbl.ClearFilters()
	assert.Equal(t, 25, tbl.View().Filtered)
	f, ok := tbl.SelectedFilter()
	require.True(t, ok)
	assert.Nil(t, f.Value)
}

func TestFilterInitValue(t *testing.T) {
	cols := []Column{
		{Name: "Id", Prop: "id"},
		{Name: "Kind", Prop: "kind", Filterable: true, FilterInitValue: "odd"},
	}
	tbl := startTable(t, Options{Columns: cols}, people(10))
	assert.Equal(t, 5, tbl.View().Filtered)
}

func TestFilterDropsMissingSelection(t *testing.T) {
	tbl := startTable(t, Options{}, people(10))
	require.NoError(t, tbl.SelectID(2))

	require.NoError(t, tbl.SetFilter("kind", "odd"))
	assert.False(t, tbl.Selection().HasSelection())
	assert.Nil(t, tbl.Expanded())
}

func TestSorting(t *testing.T) {
	tbl := startTable(t, Options{}, people(25))

	require.NoError(t, tbl.ChangeSorting("name"))
	assert.Equal(t, "row 00", tbl.View().Page[0]["name"])
	require.NoError(t, tbl.ChangeSorting("name"))
	assert.Equal(t, "row 24", tbl.View().Page[0]["name"])
	assert.Equal(t, SortSpec{Prop: "name", Dir: SortDesc}, tbl.Config().Sort())

	require.ErrorIs(t, tbl.ChangeSorting("missing"), ErrUnknownColumn)

	require.NoError(t, tbl.SetSort(SortSpec{Prop: "id", Dir: SortDesc}))
	assert.Equal(t, 24, tbl.View().Page[0]["id"])
}

func TestSortRemembersDirection(t *testing.T) {
	store := newMemStore()
	tbl := startTable(t, Options{Store: store}, people(5))

	require.NoError(t, tbl.ChangeSorting("name"))
	require.NoError(t, tbl.ChangeSorting("name"))
	require.NoError(t, tbl.ChangeSorting("id"))
	assert.Equal(t, SortSpec{Prop: "id", Dir: SortAsc}, tbl.Config().Sort())

	require.NoError(t, tbl.ChangeSorting("name"))
	assert.Equal(t, SortSpec{Prop: "name", Dir: SortDesc}, tbl.Config().Sort(), "name keeps its last direction")
	assert.Equal(t, "row 04", tbl.View().Page[0]["name"])
	tbl.Close()

	again := startTable(t, Options{Store: store}, people(5))
	require.NoError(t, again.ChangeSorting("id"))
	require.NoError(t, again.ChangeSorting("name"))
	assert.Equal(t, SortSpec{Prop: "name", Dir: SortDesc}, again.Config().Sort())
}

func TestToggleColumn(t *testing.T) {
	tbl := startTable(t, Options{}, people(5))
	require.NoError(t, tbl.ChangeSorting("name"))

	require.NoError(t, tbl.ToggleColumn("name"))
	assert.Equal(t, SortSpec{Prop: "id", Dir: SortAsc}, tbl.Config().Sort())
	assert.Len(t, tbl.VisibleColumns(), 2)

	require.NoError(t, tbl.ToggleColumn("id"))
	require.ErrorIs(t, tbl.ToggleColumn("kind"), ErrLastColumn)
	require.ErrorIs(t, tbl.ToggleColumn("missing"), ErrUnknownColumn)

	require.NoError(t, tbl.ToggleColumn("name"))
	assert.Len(t, tbl.VisibleColumns(), 2)
}

func TestSortIgnoresHiddenColumn(t *testing.T) {
	cols := []Column{
		{Name: "Id", Prop: "id"},
		{Name: "Name", Prop: "name", Hidden: true},
	}
	tbl := startTable(t, Options{Columns: cols, Sorts: []SortSpec{{Prop: "name", Dir: SortDesc}}}, people(3))
	assert.Equal(t, []any{0, 1, 2}, ids(tbl.View().Page))
}

func TestSearchKeepsSelection(t *testing.T) {
	tbl := startTable(t, Options{}, people(5))
	tbl.Select(people(5)[1])

	tbl.SetSearch("03")
	require.Equal(t, 1, tbl.View().Filtered)
	assert.True(t, tbl.Selection().HasSelection(), "only column filters drop a hidden selection")
}

func TestViewChangeBeforeDataKeepsPage(t *testing.T) {
	store := newMemStore()
	first := startTable(t, Options{Store: store}, people(50))
	first.SetPage(4)
	first.Close()

	fetcher := &heldFetches{}
	tbl, err := New(Options{Columns: peopleColumns, Store: store, Fetcher: fetcher})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.Start(context.Background()))
	require.Equal(t, 3, tbl.Config().Offset)

	require.NoError(t, tbl.ToggleColumn("kind"))
	require.NoError(t, tbl.ChangeSorting("name"))
	assert.Equal(t, 3, tbl.Config().Offset)

	fc := fetcher.get(0)
	fc.SetRows(people(50))
	require.NoError(t, fc.Done())
	v := tbl.View()
	assert.Equal(t, 4, v.PageIndex)
	assert.Equal(t, "row 30", v.Page[0]["name"])

	blob, err := store.Load(context.Background(), tbl.Name())
	require.NoError(t, err)
	assert.Contains(t, string(blob), `"offset":3`)
}

func TestViewConfigPersistence(t *testing.T) {
	store := newMemStore()
	opts := Options{Store: store}

	first := startTable(t, opts, people(25))
	first.SetSearch("row")
	first.SetLimit(5)
	require.NoError(t, first.ToggleColumn("kind"))
	require.NoError(t, first.ChangeSorting("name"))
	first.Close()

	second := startTable(t, opts, people(25))
	cfg := second.Config()
	assert.Equal(t, "row", cfg.Search)
	assert.Equal(t, 5, cfg.Limit)
	assert.Equal(t, SortSpec{Prop: "name", Dir: SortAsc}, cfg.Sort())
	assert.Len(t, second.VisibleColumns(), 2)
	assert.Equal(t, first.Name(), second.Name())
}

func TestMalformedViewConfig(t *testing.T) {
	for name, blob := range map[string]string{
		"not json":       "{not json",
		"negative limit": `{"limit":-3}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			store.blobs[TableName(peopleColumns)] = []byte(blob)

			tbl := startTable(t, Options{Store: store}, people(25))
			cfg := tbl.Config()
			assert.Equal(t, DefaultLimit, cfg.Limit)
			assert.Equal(t, "", cfg.Search)
			assert.Len(t, tbl.View().Page, 10)
		})
	}
}

func TestOptionLimitOverridesPersisted(t *testing.T) {
	store := newMemStore()
	store.blobs[TableName(peopleColumns)] = []byte(`{"limit":5}`)

	tbl := startTable(t, Options{Store: store, PageSize: 7}, people(25))
	assert.Equal(t, 7, tbl.Config().Limit)
}

func TestIdentifierError(t *testing.T) {
	tbl := startTable(t, Options{}, people(3))

	err := tbl.SetData([]Row{{"id": 1}, {"name": "x"}})
	var idErr *IdentifierError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, 1, idErr.Index)
	assert.ErrorIs(t, err, ErrMissingIdentifier)
	assert.Len(t, tbl.View().Page, 3, "previous view is kept")
}

type selectionEvents struct {
	mu        sync.Mutex
	selection []Selection
	expanded  []Row
}

func (e *selectionEvents) options(mode ReconcileMode) Options {
	return Options{
		Columns:                  peopleColumns[:2],
		UpdateSelectionOnRefresh: mode,
		UpdateExpandedOnRefresh:  mode,
		OnSelection: func(s Selection) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.selection = append(e.selection, s)
		},
		OnExpanded: func(r Row) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.expanded = append(e.expanded, r)
		},
	}
}

func (e *selectionEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.selection)
}

func renamed(rows []Row, id int, name string) []Row {
	rows[id]["name"] = name
	return rows
}

func TestSelectionOnChange(t *testing.T) {
	var events selectionEvents
	tbl := startTable(t, events.options(ReconcileOnChange), people(5))
	assert.Equal(t, 1, events.count(), "start resets observers")

	require.NoError(t, tbl.SelectID(1))
	assert.Equal(t, 2, events.count())

	require.NoError(t, tbl.SetData(people(5)))
	assert.Equal(t, 2, events.count(), "unchanged rows do not notify")

	require.NoError(t, tbl.SetData(renamed(people(5), 1, "changed")))
	assert.Equal(t, 3, events.count())
	assert.Equal(t, "changed", tbl.Selection().First()["name"])
	assert.Equal(t, "changed", tbl.Expanded()["name"])

	require.NoError(t, tbl.SetData(people(5)[2:]))
	assert.Equal(t, 3, events.count())
	assert.True(t, tbl.Selection().HasSingleSelection(), "empty match keeps the selection")
}

func TestSelectionAlways(t *testing.T) {
	var events selectionEvents
	tbl := startTable(t, events.options(ReconcileAlways), people(5))
	require.NoError(t, tbl.SelectID(1))

	require.NoError(t, tbl.SetData(people(5)))
	assert.Equal(t, 3, events.count())

	require.NoError(t, tbl.SetData(people(5)[2:]))
	assert.Equal(t, 4, events.count())
	assert.False(t, tbl.Selection().HasSelection())
}

func TestSelectionNever(t *testing.T) {
	var events selectionEvents
	tbl := startTable(t, events.options(ReconcileNever), people(5))
	require.NoError(t, tbl.SelectID(1))

	require.NoError(t, tbl.SetData(renamed(people(5), 1, "changed")))
	assert.Equal(t, 2, events.count())
	assert.Equal(t, "row 01", tbl.Selection().First()["name"])
	assert.Equal(t, "row 01", tbl.Expanded()["name"])
}

func TestSelectionActions(t *testing.T) {
	var events selectionEvents
	tbl := startTable(t, events.options(ReconcileOnChange), people(5))

	require.NoError(t, tbl.SelectID(float64(2)))
	assert.Equal(t, 2, tbl.Selection().First()["id"])
	require.ErrorIs(t, tbl.SelectID(42), ErrRowNotFound)

	require.NoError(t, tbl.SelectIndex(0))
	assert.Equal(t, 0, tbl.Selection().First()["id"])
	require.ErrorIs(t, tbl.SelectIndex(9), ErrRowNotFound)

	tbl.Deselect()
	assert.False(t, tbl.Selection().HasSelection())
	assert.Nil(t, tbl.Expanded())
	n := events.count()
	tbl.Deselect()
	assert.Equal(t, n, events.count(), "nothing to deselect")

	row := people(5)[3]
	tbl.ToggleExpanded(row)
	assert.Equal(t, row, tbl.Expanded())
	tbl.ToggleExpanded(row)
	assert.Nil(t, tbl.Expanded())

	tbl.Select(people(5)[1:3]...)
	assert.True(t, tbl.Selection().HasMultiSelection())
	assert.Equal(t, 1, tbl.Expanded()["id"])
}

func TestRefreshSingleOutstandingFetch(t *testing.T) {
	fetcher := &heldFetches{}
	tbl, err := New(Options{Columns: peopleColumns, Fetcher: fetcher})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.Start(context.Background()))
	require.Equal(t, 1, fetcher.len())
	assert.True(t, tbl.Loading())

	tbl.Refresh()
	tbl.Refresh()
	assert.Equal(t, 1, fetcher.len())

	fc := fetcher.get(0)
	assert.Equal(t, 0, fc.Offset)
	assert.Equal(t, DefaultLimit, fc.Limit)
	assert.Equal(t, "+id", fc.Sort)
	assert.NotEmpty(t, fc.ID)

	fc.SetRows(people(3))
	require.NoError(t, fc.Done())
	assert.False(t, tbl.Loading())
	assert.Equal(t, 3, tbl.View().Total)

	tbl.Refresh()
	assert.Equal(t, 2, fetcher.len())
}

func TestFetchFailure(t *testing.T) {
	var statuses []Status
	fetcher := &heldFetches{}
	tbl, err := New(Options{
		Columns:  peopleColumns,
		Fetcher:  fetcher,
		OnStatus: func(s Status) { statuses = append(statuses, s) },
	})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.Start(context.Background()))

	fc := fetcher.get(0)
	fc.Fail(errors.New("boom"))
	require.NoError(t, fc.Done())
	assert.EqualError(t, fc.Err(), "boom")
	assert.Equal(t, Status{Type: StatusDanger, Msg: "Failed to load data."}, tbl.Status())
	assert.Equal(t, []Status{{Type: StatusDanger, Msg: "Failed to load data."}}, statuses)

	tbl.Refresh()
	assert.Equal(t, Status{}, tbl.Status(), "a new cycle resets the status")

	fc = fetcher.get(1)
	fc.SetRows(people(3))
	require.NoError(t, fc.Done())
	assert.Equal(t, 3, tbl.View().Total)

	tbl.Refresh()
	fc = fetcher.get(2)
	fc.ErrorConfig.ResetData = true
	require.NoError(t, fc.Done())
	assert.Equal(t, 0, tbl.View().Total)
	assert.Empty(t, tbl.View().Page)
}

func TestFetchIdentifierError(t *testing.T) {
	fetcher := &heldFetches{}
	tbl, err := New(Options{Columns: peopleColumns, Fetcher: fetcher})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.Start(context.Background()))

	fc := fetcher.get(0)
	fc.SetRows([]Row{{"name": "x"}})
	require.ErrorIs(t, fc.Done(), ErrMissingIdentifier)
	require.ErrorIs(t, fc.Done(), ErrMissingIdentifier, "later calls return the same result")
}

func TestCloseIgnoresLateCompletion(t *testing.T) {
	fetcher := &heldFetches{}
	tbl, err := New(Options{Columns: peopleColumns, Fetcher: fetcher})
	require.NoError(t, err)
	require.NoError(t, tbl.Start(context.Background()))

	fc := fetcher.get(0)
	tbl.Close()
	assert.Error(t, fc.Context().Err())

	fc.SetRows(people(3))
	require.NoError(t, fc.Done())
	assert.Equal(t, 0, tbl.View().Total)
	require.ErrorIs(t, tbl.Sync(context.Background()), ErrClosed)
	tbl.Close()
}

func TestSync(t *testing.T) {
	var calls atomic.Int32
	fetcher := FetcherFunc(func(fc *FetchContext) {
		calls.Add(1)
		go func() {
			time.Sleep(5 * time.Millisecond)
			fc.SetRows(people(3))
			_ = fc.Done()
		}()
	})
	tbl, err := New(Options{Columns: peopleColumns, Fetcher: fetcher})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.ErrorIs(t, tbl.Sync(context.Background()), ErrNotStarted)

	require.NoError(t, tbl.Start(context.Background()))
	require.NoError(t, tbl.Sync(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 3, tbl.View().Total)
	assert.False(t, tbl.Loading())
}

func TestSyncWithoutFetcher(t *testing.T) {
	tbl, err := New(Options{Columns: peopleColumns})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.SetData(people(4)))
	require.NoError(t, tbl.Start(context.Background()))

	require.NoError(t, tbl.Sync(context.Background()))
	assert.Equal(t, 4, tbl.View().Total)
	assert.False(t, tbl.Loading())
}

func TestAutoReload(t *testing.T) {
	var calls atomic.Int32
	fetcher := FetcherFunc(func(fc *FetchContext) {
		calls.Add(1)
		fc.SetRows(people(3))
		_ = fc.Done()
	})
	tbl, err := New(Options{Columns: peopleColumns, Fetcher: fetcher, AutoReload: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, tbl.Start(context.Background()))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	tbl.Close()

	n := calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no reload after Close")
}

type serverFetches struct {
	mu  sync.Mutex
	fcs []*FetchContext
}

func (s *serverFetches) Fetch(fc *FetchContext) {
	s.mu.Lock()
	s.fcs = append(s.fcs, fc)
	s.mu.Unlock()
	fc.SetRows(people(10))
	fc.SetCount(100)
	_ = fc.Done()
}

func (s *serverFetches) snapshot() []*FetchContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FetchContext(nil), s.fcs...)
}

func TestServerSideDebounce(t *testing.T) {
	fetcher := &serverFetches{}
	tbl, err := New(Options{
		Columns:        peopleColumns,
		Fetcher:        fetcher,
		ServerSide:     true,
		DebounceWindow: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.Start(context.Background()))
	require.Len(t, fetcher.snapshot(), 1)

	v := tbl.View()
	assert.Equal(t, 100, v.Total)
	assert.Equal(t, 10, v.PageCount)
	assert.Len(t, v.Page, 10)

	tbl.SetSearch("a")
	tbl.SetSearch("ab")
	tbl.SetPage(3)
	assert.Len(t, fetcher.snapshot(), 1)

	require.Eventually(t, func() bool { return len(fetcher.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(fetcher.snapshot()) > 2 }, 100*time.Millisecond, 10*time.Millisecond)

	fc := fetcher.snapshot()[1]
	assert.Equal(t, "ab", fc.Search)
	assert.Equal(t, 2, fc.Offset)
	assert.Equal(t, DefaultLimit, fc.Limit)
	assert.Equal(t, 3, tbl.View().PageIndex)
}

func TestServerSideFilterResetsOffset(t *testing.T) {
	fetcher := &serverFetches{}
	tbl, err := New(Options{
		Columns:        peopleColumns,
		Fetcher:        fetcher,
		ServerSide:     true,
		DebounceWindow: -1,
	})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.Start(context.Background()))

	tbl.SetPage(4)
	require.NoError(t, tbl.SetFilter("kind", "unseen"), "server-side filters accept values off the page")

	fcs := fetcher.snapshot()
	require.Len(t, fcs, 3)
	assert.Equal(t, 3, fcs[1].Offset)
	assert.Equal(t, 0, fcs[2].Offset)
	assert.Equal(t, map[string]string{"kind": "unseen"}, fcs[2].Filters)
}

// shrinkingFetches serves pages of a 12 row result set.
type shrinkingFetches struct {
	serverFetches
}

func (s *shrinkingFetches) Fetch(fc *FetchContext) {
	s.mu.Lock()
	s.fcs = append(s.fcs, fc)
	s.mu.Unlock()
	fc.SetRows(Paginate(people(12), fc.Offset+1, fc.Limit))
	fc.SetCount(12)
	_ = fc.Done()
}

func TestServerSidePageIsClamped(t *testing.T) {
	fetcher := &shrinkingFetches{}
	tbl, err := New(Options{
		Columns:        peopleColumns,
		Fetcher:        fetcher,
		ServerSide:     true,
		DebounceWindow: -1,
	})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.Start(context.Background()))

	tbl.SetPage(9)
	fcs := fetcher.snapshot()
	require.Len(t, fcs, 3)
	assert.Equal(t, 8, fcs[1].Offset)
	assert.Equal(t, 1, fcs[2].Offset, "the last page is fetched instead")

	v := tbl.View()
	assert.Equal(t, 2, v.PageIndex)
	assert.Equal(t, 2, v.PageCount)
	assert.Equal(t, 1, v.Config.Offset)
	assert.Equal(t, []any{10, 11}, ids(v.Page))
	assert.False(t, v.Loading)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	fetcher := &heldFetches{}
	tbl, err := New(Options{Columns: peopleColumns, Fetcher: fetcher, Metrics: m})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	require.NoError(t, tbl.Start(context.Background()))

	tbl.Refresh()
	fc := fetcher.get(0)
	fc.SetRows(people(4))
	require.NoError(t, fc.Done())

	name := tbl.Name()
	assert.Equal(t, 1.0, gathered(t, reg, "datatable_fetch_cycles_total", name, "started"))
	assert.Equal(t, 1.0, gathered(t, reg, "datatable_fetch_cycles_total", name, "skipped"))
	assert.Equal(t, 1.0, gathered(t, reg, "datatable_fetch_cycles_total", name, "completed"))
	assert.Equal(t, 4.0, gathered(t, reg, "datatable_rows", name, "raw"))

	var nilMetrics *Metrics
	nilMetrics.fetch(name, "started")
}

// gathered reads the counter or gauge of metric labelled table and value.
func gathered(t *testing.T, reg *prometheus.Registry, metric, table, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != metric {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["table"] != table || (labels["outcome"] != value && labels["set"] != value) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}
