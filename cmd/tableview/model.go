package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gnemet/datatable"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Faint(true).Padding(0, 1)
	dangerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
	helpStyle   = lipgloss.NewStyle().Faint(true).Padding(0, 1)
)

// changedMsg tells the model the table changed outside of a key press,
// such as a finished reload.
type changedMsg struct{}

type model struct {
	title   string
	table   *datatable.Table
	changed <-chan struct{}
	keys    keyMap

	grid      table.Model
	search    textinput.Model
	searching bool

	view    datatable.View
	columns []datatable.Column
	err     error
	width   int
	height  int
}

func newModel(title string, t *datatable.Table, changed <-chan struct{}) model {
	search := textinput.New()
	search.Placeholder = `text, "a phrase" or column:value`
	search.Prompt = "/ "

	m := model{
		title:   title,
		table:   t,
		changed: changed,
		keys:    defaultKeyMap(),
		grid:    table.New(table.WithFocused(true), table.WithHeight(12)),
		search:  search,
	}
	m.sync()
	return m
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func (m model) Init() tea.Cmd {
	return waitForChange(m.changed)
}

// sync copies the table state into the widgets.
func (m *model) sync() {
	m.view = m.table.View()
	m.columns = m.table.VisibleColumns()

	cols := make([]table.Column, len(m.columns))
	for i, c := range m.columns {
		title := c.Name
		if s := m.view.Config.Sort(); s.Prop == c.Prop {
			title += map[datatable.SortDir]string{datatable.SortAsc: " ▲", datatable.SortDesc: " ▼"}[s.Dir]
		}
		width := c.Width
		if width == 0 {
			width = max(len(title)+2, 6*c.FlexGrow+4)
		}
		cols[i] = table.Column{Title: title, Width: width}
	}
	rows := make([]table.Row, len(m.view.Page))
	for i, r := range m.view.Page {
		row := make(table.Row, len(m.columns))
		for j, c := range m.columns {
			row[j] = r.Format(c)
		}
		rows[i] = row
	}

	// columns first so rows never outnumber them while rendering
	m.grid.SetRows(nil)
	m.grid.SetColumns(cols)
	m.grid.SetRows(rows)
	if m.grid.Cursor() >= len(rows) {
		m.grid.SetCursor(max(0, len(rows)-1))
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.grid.SetHeight(max(3, msg.Height-6))
		return m, nil
	case changedMsg:
		m.sync()
		return m, waitForChange(m.changed)
	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		m.searching = false
		m.search.Blur()
		m.table.SetSearch(m.search.Value())
		m.sync()
		return m, nil
	case key.Matches(msg, m.keys.Escape):
		m.searching = false
		m.search.Blur()
		m.search.SetValue(m.view.Config.Search)
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	t := m.table
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.search.SetValue(m.view.Config.Search)
		return m, m.search.Focus()
	case key.Matches(msg, m.keys.Escape):
		t.ClearSearch()
	case key.Matches(msg, m.keys.NextPage):
		t.SetPage(m.view.PageIndex + 1)
	case key.Matches(msg, m.keys.PrevPage):
		t.SetPage(m.view.PageIndex - 1)
	case key.Matches(msg, m.keys.MoreRows):
		t.SetLimit(m.view.Limit + 5)
	case key.Matches(msg, m.keys.FewerRows):
		t.SetLimit(m.view.Limit - 5)
	case key.Matches(msg, m.keys.NextSortCol):
		m.err = t.ChangeSorting(m.sortColumn(1))
	case key.Matches(msg, m.keys.PrevSortCol):
		m.err = t.ChangeSorting(m.sortColumn(-1))
	case key.Matches(msg, m.keys.ToggleSort):
		m.err = t.ChangeSorting(m.view.Config.Sort().Prop)
	case key.Matches(msg, m.keys.NextFilter):
		m.err = m.nextFilter()
	case key.Matches(msg, m.keys.CycleOption):
		m.cycleOption()
	case key.Matches(msg, m.keys.ClearFilters):
		t.ClearFilters()
	case key.Matches(msg, m.keys.HideColumn):
		m.err = t.ToggleColumn(m.view.Config.Sort().Prop)
	case key.Matches(msg, m.keys.Select):
		m.err = t.SelectIndex(m.grid.Cursor())
	case key.Matches(msg, m.keys.Deselect):
		t.Deselect()
	case key.Matches(msg, m.keys.Refresh):
		t.Refresh()
	default:
		var cmd tea.Cmd
		m.grid, cmd = m.grid.Update(msg)
		return m, cmd
	}
	m.sync()
	return m, nil
}

// sortColumn returns the prop of the visible column step places from the
// sorted one.
func (m model) sortColumn(step int) string {
	if len(m.columns) == 0 {
		return ""
	}
	cur := m.view.Config.Sort().Prop
	i := slices.IndexFunc(m.columns, func(c datatable.Column) bool { return c.Prop == cur })
	i = (i + step + len(m.columns)) % len(m.columns)
	return m.columns[i].Prop
}

func (m model) nextFilter() error {
	filters := m.table.Filters()
	if len(filters) == 0 {
		return nil
	}
	cur, _ := m.table.SelectedFilter()
	i := slices.IndexFunc(filters, func(f datatable.ColumnFilter) bool { return f.Column.Prop == cur.Column.Prop })
	return m.table.SelectFilter(filters[(i+1)%len(filters)].Column.Name)
}

// cycleOption moves the selected filter to its next option; past the last
// one the filter is cleared.
func (m model) cycleOption() {
	f, ok := m.table.SelectedFilter()
	if !ok || len(f.Options) == 0 {
		return
	}
	if f.Value == nil {
		m.table.ChangeFilter(f.Options[0].Raw)
		return
	}
	i := slices.IndexFunc(f.Options, func(o datatable.FilterOption) bool { return o.Raw == f.Value.Raw })
	if i+1 < len(f.Options) {
		m.table.ChangeFilter(f.Options[i+1].Raw)
		return
	}
	m.table.ChangeFilter(f.Value.Raw)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if m.searching {
		b.WriteString(m.search.View())
	} else if s := m.view.Config.Search; s != "" {
		b.WriteString(statusStyle.Render("search: " + s))
	}
	b.WriteString("\n")
	b.WriteString(m.grid.View())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.statusLine()))
	b.WriteString("\n")
	switch {
	case m.view.Status.Type == datatable.StatusDanger:
		b.WriteString(dangerStyle.Render(m.view.Status.Msg))
	case m.err != nil:
		b.WriteString(dangerStyle.Render(m.err.Error()))
	default:
		b.WriteString(helpStyle.Render("/ search · n/p page · </> sort · s flip · f/o filter · c clear · space select · r refresh · q quit"))
	}
	return b.String()
}

func (m model) statusLine() string {
	parts := []string{
		fmt.Sprintf("page %d/%d", m.view.PageIndex, m.view.PageCount),
		fmt.Sprintf("%d of %d rows", m.view.Filtered, m.view.Total),
	}
	if m.view.Limit > 0 {
		parts = append(parts, fmt.Sprintf("%d per page", m.view.Limit))
	}
	if f, ok := m.table.SelectedFilter(); ok {
		value := "all"
		if f.Value != nil {
			value = f.Value.Formatted
		}
		parts = append(parts, fmt.Sprintf("filter %s=%s", f.Column.Name, value))
	}
	if sel := m.table.Selection(); sel.HasSelection() {
		id, _ := m.table.RowID(sel.First())
		parts = append(parts, fmt.Sprintf("selected %v", id))
	}
	if m.view.Loading {
		parts = append(parts, "loading…")
	}
	return strings.Join(parts, " · ")
}
