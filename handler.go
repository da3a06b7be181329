package datatable

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// RequestParams captures the view changes of a request. Absent parameters
// leave the table as it is.
type RequestParams struct {
	Search    string
	HasSearch bool
	Sort      []string // "prop:dir", "+prop" or "-prop"
	Filters   map[string]string
	Limit     int
	// Offset is a row offset, Page a 1-based page; both are 0 when absent.
	Offset   int
	Page     int
	Select   string
	Deselect bool
}

// TableResult is the JSON answer of the handler.
type TableResult struct {
	Records       []Row          `json:"records"`
	TotalCount    int            `json:"total_count"`
	FilteredCount int            `json:"filtered_count"`
	Offset        int            `json:"offset"`
	Limit         int            `json:"limit"`
	Page          int            `json:"page"`
	PageCount     int            `json:"page_count"`
	Columns       []Column       `json:"columns"`
	Filters       []ColumnFilter `json:"filters"`
	Selection     Selection      `json:"selection"`
	Expanded      Row            `json:"expanded,omitempty"`
	Status        Status         `json:"status"`
	Loading       bool           `json:"loading"`
}

// Handler exposes a table over HTTP.
type Handler struct {
	Table  *Table
	Logger *slog.Logger
}

func NewHandler(t *Table) *Handler {
	return &Handler{Table: t, Logger: t.logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params, err := h.ParseParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Apply(params); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	if h.Table.opts.ServerSide {
		if err := h.Table.Sync(r.Context()); err != nil && !errors.Is(err, ErrMissingIdentifier) {
			h.Logger.Warn("Sync failed", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Result()); err != nil {
		h.Logger.Warn("Failed to write response", "error", err)
	}
}

// ParseParams reads search, sort, limit, offset, page, select, deselect and
// filter.<name> from the query string.
func (h *Handler) ParseParams(r *http.Request) (RequestParams, error) {
	q := r.URL.Query()
	p := RequestParams{
		Search:    q.Get("search"),
		HasSearch: q.Has("search"),
		Select:    q.Get("select"),
		Deselect:  q.Has("deselect"),
	}
	for _, s := range q["sort"] {
		for part := range strings.SplitSeq(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				p.Sort = append(p.Sort, part)
			}
		}
	}
	var err error
	if p.Limit, err = intParam(q.Get("limit")); err != nil {
		return p, err
	}
	if p.Offset, err = intParam(q.Get("offset")); err != nil {
		return p, err
	}
	if p.Page, err = intParam(q.Get("page")); err != nil {
		return p, err
	}
	for key, values := range q {
		name, ok := strings.CutPrefix(key, "filter.")
		if !ok || len(values) == 0 {
			continue
		}
		if p.Filters == nil {
			p.Filters = make(map[string]string)
		}
		p.Filters[name] = values[len(values)-1]
	}
	return p, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number " + strconv.Quote(s))
	}
	return n, nil
}

// Apply changes the table according to p.
func (h *Handler) Apply(p RequestParams) error {
	t := h.Table
	if p.HasSearch {
		t.SetSearch(p.Search)
	}
	for name, raw := range p.Filters {
		if err := t.SetFilter(name, raw); err != nil {
			return err
		}
	}
	// the first sort wins; the engine sorts by one column
	if len(p.Sort) > 0 {
		if err := t.SetSort(ParseSort(p.Sort[0])); err != nil {
			return err
		}
	}
	limit := t.Config().Limit
	if p.Limit > 0 {
		limit = t.SetLimit(p.Limit)
	}
	switch {
	case p.Page > 0:
		t.SetPage(p.Page)
	case p.Offset > 0 && limit > 0:
		t.SetPage(p.Offset/limit + 1)
	}
	if p.Deselect {
		t.Deselect()
	}
	if p.Select != "" {
		if err := h.selectID(p.Select); err != nil {
			return err
		}
	}
	return nil
}

// selectID matches the query string id against identifiers of any type.
func (h *Handler) selectID(id string) error {
	t := h.Table
	if err := t.SelectID(id); err == nil {
		return nil
	}
	if n, err := strconv.ParseFloat(id, 64); err == nil {
		return t.SelectID(n)
	}
	return t.SelectID(id)
}

// Result snapshots the table for the response.
func (h *Handler) Result() TableResult {
	t := h.Table
	v := t.View()
	return TableResult{
		Records:       v.Page,
		TotalCount:    v.Total,
		FilteredCount: v.Filtered,
		Offset:        (v.PageIndex - 1) * v.Limit,
		Limit:         v.Limit,
		Page:          v.PageIndex,
		PageCount:     v.PageCount,
		Columns:       t.Columns(),
		Filters:       t.Filters(),
		Selection:     t.Selection(),
		Expanded:      t.Expanded(),
		Status:        v.Status,
		Loading:       v.Loading,
	}
}
