package datatable

import (
	"strconv"
	"unicode/utf16"
)

// CellSparkline marks columns rendered as charts; they are never searched.
const CellSparkline = "sparkline"

// SortDir is the direction of a sort.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// SortSpec sorts by a single property.
type SortSpec struct {
	Prop string  `json:"prop"`
	Dir  SortDir `json:"dir"`
}

// String renders the spec the way data sources receive it: "+prop" or "-prop".
func (s SortSpec) String() string {
	if s.Prop == "" {
		return ""
	}
	if s.Dir == SortDesc {
		return "-" + s.Prop
	}
	return "+" + s.Prop
}

// ParseSort reads "+prop", "-prop", "prop", "prop:asc" or "prop:desc".
func ParseSort(s string) SortSpec {
	if s == "" {
		return SortSpec{}
	}
	switch s[0] {
	case '-':
		return SortSpec{Prop: s[1:], Dir: SortDesc}
	case '+':
		return SortSpec{Prop: s[1:], Dir: SortAsc}
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != ':' {
			continue
		}
		spec := SortSpec{Prop: s[:i], Dir: SortAsc}
		switch s[i+1:] {
		case "desc", "DESC":
			spec.Dir = SortDesc
		}
		return spec
	}
	return SortSpec{Prop: s, Dir: SortAsc}
}

// Column is a named projection of a Row plus display, filter and sort metadata.
type Column struct {
	Name               string `json:"name"`
	Prop               string `json:"prop"`
	Sortable           bool   `json:"sortable"`
	Filterable         bool   `json:"filterable"`
	Hidden             bool   `json:"isHidden,omitempty"`
	Invisible          bool   `json:"isInvisible,omitempty"`
	FlexGrow           int    `json:"flexGrow,omitempty"`
	Width              int    `json:"width,omitempty"`
	CellTransformation string `json:"cellTransformation,omitempty"`

	// Pipe formats a value for display, filter options and search.
	Pipe func(any) any `json:"-"`
	// FilterPredicate replaces string equality for column filters.
	FilterPredicate func(row Row, raw string) bool `json:"-"`
	// FilterOptions is a static option list; nil derives options from the data.
	FilterOptions   []any `json:"filterOptions,omitempty"`
	FilterInitValue any   `json:"filterInitValue,omitempty"`
}

// TableName derives the persistence key of a table from its columns, so
// tables sharing a page do not collide.
func TableName(columns []Column) string {
	var sum int64
	for i, c := range columns {
		sum += (weight(c.Prop) + weight(c.Name)) * int64(i+1)
	}
	return strconv.FormatInt(sum, 10)
}

func weight(s string) int64 {
	var w int64
	for i, u := range utf16.Encode([]rune(s)) {
		w += int64(u) * int64(i)
	}
	return w
}
