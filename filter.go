package datatable

import (
	"math"
	"slices"
	"strings"
	"time"
)

// FilterOption is one selectable value of a column filter.
type FilterOption struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

// ColumnFilter is the filter state of one filterable column. A nil Value
// means the filter is not applied.
type ColumnFilter struct {
	Column  Column         `json:"column"`
	Options []FilterOption `json:"options"`
	Value   *FilterOption  `json:"value,omitempty"`
}

// AppliedFilter describes an active filter in a ColumnFiltersChange.
type AppliedFilter struct {
	Name  string       `json:"name"`
	Prop  string       `json:"prop"`
	Value FilterOption `json:"value"`
}

// ColumnFiltersChange carries the applied filters and the rows they kept
// (Data) and excluded (DataOut).
type ColumnFiltersChange struct {
	Filters []AppliedFilter `json:"filters"`
	Data    []Row           `json:"data"`
	DataOut []Row           `json:"dataOut"`
}

func newFilterOption(v any, pipe func(any) any) FilterOption {
	raw := stringValue(v)
	opt := FilterOption{Raw: raw, Formatted: raw}
	if pipe != nil {
		opt.Formatted = stringValue(pipe(v))
	}
	return opt
}

func newColumnFilter(col Column) *ColumnFilter {
	f := &ColumnFilter{Column: col, Options: []FilterOption{}}
	if col.FilterInitValue != nil {
		opt := newFilterOption(col.FilterInitValue, col.Pipe)
		f.Value = &opt
	}
	return f
}

// filterable reports whether a value can be offered as a filter option.
func filterable(v any) bool {
	switch x := v.(type) {
	case string:
		return x != ""
	case bool, time.Time:
		return true
	}
	f, ok := toFloat(v)
	return ok && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// updateOptions recomputes the options from rows, or from the static list,
// and drops a current value that is no longer offered.
func (f *ColumnFilter) updateOptions(rows []Row) {
	values := f.Column.FilterOptions
	if values == nil {
		if rows == nil {
			return
		}
		seen := make(map[string]bool)
		for _, row := range rows {
			v, _ := row.Get(f.Column.Prop)
			if !filterable(v) {
				continue
			}
			raw := stringValue(v)
			if seen[raw] {
				continue
			}
			seen[raw] = true
			values = append(values, v)
		}
		slices.SortStableFunc(values, func(a, b any) int {
			return strings.Compare(stringValue(a), stringValue(b))
		})
	}

	options := make([]FilterOption, 0, len(values))
	for _, v := range values {
		options = append(options, newFilterOption(v, f.Column.Pipe))
	}
	if f.Value != nil && !slices.ContainsFunc(options, func(o FilterOption) bool { return o.Raw == f.Value.Raw }) {
		f.Value = nil
	}
	f.Options = options
}

func (f *ColumnFilter) matches(row Row) bool {
	if f.Column.FilterPredicate != nil {
		return f.Column.FilterPredicate(row, f.Value.Raw)
	}
	v, _ := row.Get(f.Column.Prop)
	return stringValue(v) == f.Value.Raw
}

func (f *ColumnFilter) clone() ColumnFilter {
	c := ColumnFilter{Column: f.Column, Options: slices.Clone(f.Options)}
	if f.Value != nil {
		v := *f.Value
		c.Value = &v
	}
	return c
}

// ApplyColumnFilters partitions rows by every active filter. Filters compose
// conjunctively; rows rejected by any filter end up in DataOut.
func ApplyColumnFilters(rows []Row, filters []*ColumnFilter) ColumnFiltersChange {
	change := ColumnFiltersChange{
		Filters: []AppliedFilter{},
		Data:    slices.Clone(rows),
		DataOut: []Row{},
	}
	for _, f := range filters {
		if f.Value == nil {
			continue
		}
		change.Filters = append(change.Filters, AppliedFilter{
			Name:  f.Column.Name,
			Prop:  f.Column.Prop,
			Value: *f.Value,
		})
		kept := make([]Row, 0, len(change.Data))
		for _, row := range change.Data {
			if f.matches(row) {
				kept = append(kept, row)
			} else {
				change.DataOut = append(change.DataOut, row)
			}
		}
		change.Data = kept
	}
	return change
}
