package sqlsource

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gnemet/datatable"
)

// Query is the part of a FetchContext that shapes the SQL. Offset is the
// 0-based page index.
type Query struct {
	Offset  int
	Limit   int
	Search  string
	Sort    string
	Filters map[string]string
}

func queryOf(fc *datatable.FetchContext) Query {
	return Query{
		Offset:  fc.Offset,
		Limit:   fc.Limit,
		Search:  fc.Search,
		Sort:    fc.Sort,
		Filters: fc.Filters,
	}
}

// statement is a built query with its bind arguments.
type statement struct {
	where string
	order string
	args  []any
}

func (s *Source) build(q Query) statement {
	where, args := s.buildWhere(q)
	return statement{where: where, order: s.buildOrder(q.Sort), args: args}
}

func (st statement) count(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, st.where)
}

func (st statement) selectAll(table string, cols []string) string {
	return fmt.Sprintf("SELECT %s FROM %s%s%s", strings.Join(cols, ", "), table, st.where, st.order)
}

func (st statement) page(table string, cols []string, q Query) string {
	sql := st.selectAll(table, cols)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset*q.Limit)
	}
	return sql
}

// key identifies the result set of st for deduplication and cursor reuse.
func (st statement) key() string {
	var b strings.Builder
	b.WriteString(st.where)
	b.WriteString(st.order)
	for _, a := range st.args {
		fmt.Fprintf(&b, "|%v", a)
	}
	return b.String()
}

func (s *Source) buildWhere(q Query) (string, []any) {
	var clauses []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return s.dialect.Placeholder(len(args))
	}

	// exact filters, keyed by column
	for _, col := range s.columnOrder(q.Filters) {
		raw := q.Filters[col]
		if raw == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = %s", col, next(s.convert(col, raw))))
	}

	// search tokens; a scoped token restricts the columns
	for _, token := range datatable.PrepareSearch(q.Search) {
		term := datatable.ParseTerm(token)
		if term.Text == "" {
			continue
		}
		var cols []string
		for _, c := range term.Columns(s.searchable) {
			cols = append(cols, c.Prop)
		}
		if len(cols) == 0 {
			clauses = append(clauses, "1 = 0")
			continue
		}
		pattern := "%" + escapeLike(term.Text) + "%"
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = fmt.Sprintf("LOWER(%s) %s %s ESCAPE '\\'", s.dialect.Text(c), s.dialect.ContainsOp(), next(pattern))
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// columnOrder returns the known filter columns of filters in column order
// so the generated SQL is stable.
func (s *Source) columnOrder(filters map[string]string) []string {
	var out []string
	for _, c := range s.columns {
		if _, ok := filters[c]; ok {
			out = append(out, c)
		}
	}
	for c := range s.filterTypes {
		if _, ok := filters[c]; ok && !s.isColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Source) isColumn(name string) bool {
	for _, c := range s.columns {
		if c == name {
			return true
		}
	}
	return false
}

// convert types a raw filter value according to its filter definition.
func (s *Source) convert(col, raw string) any {
	switch s.filterTypes[col] {
	case "int_bool":
		if raw == "true" || raw == "1" {
			return 1
		}
		return 0
	case "boolean":
		return raw == "true"
	case "number":
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	}
	return raw
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Source) buildOrder(sort string) string {
	spec := datatable.ParseSort(sort)
	if spec.Prop == "" || !s.isColumn(spec.Prop) {
		spec = datatable.SortSpec{Prop: s.identifier, Dir: datatable.SortAsc}
	}
	dir := "ASC"
	if spec.Dir == datatable.SortDesc {
		dir = "DESC"
	}
	order := fmt.Sprintf(" ORDER BY %s %s", spec.Prop, dir)
	if spec.Prop != s.identifier {
		order += ", " + s.identifier + " ASC"
	}
	return order
}
