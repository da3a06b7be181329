package datatable

import "slices"

// SortRows returns a copy of rows ordered by spec. Ties keep their input order.
func SortRows(rows []Row, spec SortSpec) []Row {
	out := slices.Clone(rows)
	if spec.Prop == "" {
		return out
	}
	slices.SortStableFunc(out, func(a, b Row) int {
		c := compareValues(a.Value(spec.Prop), b.Value(spec.Prop))
		if spec.Dir == SortDesc {
			return -c
		}
		return c
	})
	return out
}

// nextSort toggles the sort on prop: the active column flips direction,
// another column adopts its persisted direction or ascending.
func nextSort(sorts []SortSpec, prop string) SortSpec {
	for i, s := range sorts {
		if s.Prop != prop {
			continue
		}
		if i > 0 {
			return s
		}
		if s.Dir == SortAsc {
			return SortSpec{Prop: prop, Dir: SortDesc}
		}
		return SortSpec{Prop: prop, Dir: SortAsc}
	}
	return SortSpec{Prop: prop, Dir: SortAsc}
}

// promoteSort makes spec the active sort. The other columns keep their last
// direction behind it.
func promoteSort(sorts []SortSpec, spec SortSpec) []SortSpec {
	out := make([]SortSpec, 0, len(sorts)+1)
	out = append(out, spec)
	for _, s := range sorts {
		if s.Prop != spec.Prop {
			out = append(out, s)
		}
	}
	return out
}

// rememberedSort is the last direction used on prop, ascending when never
// sorted.
func rememberedSort(sorts []SortSpec, prop string) SortSpec {
	for _, s := range sorts {
		if s.Prop == prop {
			return s
		}
	}
	return SortSpec{Prop: prop, Dir: SortAsc}
}
