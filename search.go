package datatable

import (
	"regexp"
	"strings"
)

var quotedPhrase = regexp.MustCompile(`['"][^'"]+['"]`)

// PrepareSearch lowercases a search string, drops commas and splits it into
// tokens on whitespace. A quoted phrase stays one token with its spaces
// replaced by '+'.
func PrepareSearch(search string) []string {
	search = strings.ReplaceAll(strings.ToLower(search), ",", "")
	search = quotedPhrase.ReplaceAllStringFunc(search, func(m string) string {
		return strings.ReplaceAll(m[1:len(m)-1], " ", "+")
	})
	return strings.Fields(search)
}

// SearchTerm is one prepared token split into an optional column scope and
// the text to look for.
type SearchTerm struct {
	Scope  string
	Text   string
	Scoped bool
}

// ParseTerm restores the spaces of a quoted phrase and splits "col:value".
func ParseTerm(token string) SearchTerm {
	parts := strings.Split(strings.ReplaceAll(token, "+", " "), ":")
	if len(parts) == 2 {
		return SearchTerm{Scope: parts[0], Text: parts[1], Scoped: true}
	}
	return SearchTerm{Text: parts[len(parts)-1]}
}

// Columns narrows the candidate columns of a scoped term to those whose
// name contains the scope.
func (t SearchTerm) Columns(columns []Column) []Column {
	if !t.Scoped {
		return columns
	}
	var out []Column
	for _, c := range columns {
		if strings.Contains(strings.ToLower(c.Name), t.Scope) {
			out = append(out, c)
		}
	}
	return out
}

// SearchColumns returns the columns free-text search looks at: visible and
// not rendered as sparklines.
func SearchColumns(columns []Column) []Column {
	var out []Column
	for _, c := range columns {
		if c.Hidden || c.CellTransformation == CellSparkline {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Search keeps the rows matching every token of search. Tokens apply from
// the last typed one backwards; a row matches a token when any candidate
// column contains it.
func Search(rows []Row, search string, columns []Column, objects bool) []Row {
	tokens := PrepareSearch(search)
	for i := len(tokens) - 1; i >= 0 && len(rows) > 0; i-- {
		term := ParseTerm(tokens[i])
		rows = matchTerm(rows, term.Text, term.Columns(columns), objects)
	}
	return rows
}

func matchTerm(rows []Row, text string, columns []Column, objects bool) []Row {
	if text == "" {
		return rows
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		for _, col := range columns {
			if cellContains(row, col, text, objects) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func cellContains(row Row, col Column, text string, objects bool) bool {
	v, _ := row.Get(col.Prop)
	if col.Pipe != nil {
		v = col.Pipe(v)
	}
	s, ok := searchText(v, objects)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(s), text)
}
