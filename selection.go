package datatable

import (
	"fmt"
	"reflect"
	"slices"
)

// Selection is the ordered list of selected rows.
type Selection struct {
	Selected []Row `json:"selected"`
}

func (s Selection) HasSelection() bool       { return len(s.Selected) > 0 }
func (s Selection) HasSingleSelection() bool { return len(s.Selected) == 1 }
func (s Selection) HasMultiSelection() bool  { return len(s.Selected) > 1 }

// First returns the first selected row or nil.
func (s Selection) First() Row {
	if len(s.Selected) == 0 {
		return nil
	}
	return s.Selected[0]
}

func (s Selection) clone() Selection {
	return Selection{Selected: slices.Clone(s.Selected)}
}

// ReconcileMode controls how selection and expansion follow a data reload.
type ReconcileMode int

const (
	// ReconcileOnChange reconciles and notifies only when the result differs.
	ReconcileOnChange ReconcileMode = iota
	ReconcileAlways
	ReconcileNever
)

func (m ReconcileMode) String() string {
	switch m {
	case ReconcileAlways:
		return "always"
	case ReconcileNever:
		return "never"
	default:
		return "onChange"
	}
}

func (m ReconcileMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ReconcileMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "onChange":
		*m = ReconcileOnChange
	case "always":
		*m = ReconcileAlways
	case "never":
		*m = ReconcileNever
	default:
		return fmt.Errorf("unknown reconcile mode %q", b)
	}
	return nil
}

// selectionTracker holds the selected rows and the expanded row, matched
// across reloads by the identifier property.
type selectionTracker struct {
	identifier    string
	selection     Selection
	expanded      Row
	selectionMode ReconcileMode
	expandedMode  ReconcileMode
}

func (t *selectionTracker) id(row Row) any {
	return row.Value(t.identifier)
}

func (t *selectionTracker) contains(rows []Row, id any) (Row, bool) {
	for _, row := range rows {
		if sameValue(t.id(row), id) {
			return row, true
		}
	}
	return nil, false
}

// reconcileSelection rebuilds the selection from rows and reports whether
// observers must be told. Selected rows missing from rows are dropped. When
// none is left, only ReconcileAlways clears the selection; ReconcileOnChange
// keeps it so a transient empty reload does not lose it.
func (t *selectionTracker) reconcileSelection(rows []Row) bool {
	if t.selectionMode == ReconcileNever || !t.selection.HasSelection() {
		return false
	}
	var matched []Row
	for _, sel := range t.selection.Selected {
		id := t.id(sel)
		for _, row := range rows {
			if sameValue(id, t.id(row)) && !slices.ContainsFunc(matched, func(m Row) bool { return sameRow(m, row) }) {
				matched = append(matched, row)
			}
		}
	}
	if len(matched) == 0 && t.selectionMode != ReconcileAlways {
		return false
	}
	if t.selectionMode == ReconcileOnChange && reflect.DeepEqual(t.selection.Selected, matched) {
		return false
	}
	t.setSelection(Selection{Selected: matched})
	return true
}

func sameRow(a, b Row) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// reconcileExpanded re-points the expanded row at its refreshed version.
func (t *selectionTracker) reconcileExpanded(rows []Row) bool {
	if t.expanded == nil || t.expandedMode == ReconcileNever {
		return false
	}
	next, _ := t.contains(rows, t.id(t.expanded))
	if t.expandedMode == ReconcileOnChange && reflect.DeepEqual(t.expanded, next) {
		return false
	}
	t.expanded = next
	return true
}

// dropMissing clears the selection when a selected row is not in rows.
func (t *selectionTracker) dropMissing(rows []Row) bool {
	for _, sel := range t.selection.Selected {
		if _, ok := t.contains(rows, t.id(sel)); !ok {
			t.setSelection(Selection{})
			return true
		}
	}
	return false
}

// setSelection replaces the selection; the first selected row becomes the
// expanded one.
func (t *selectionTracker) setSelection(s Selection) {
	t.selection = s
	t.expanded = s.First()
}
