package datatable

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed catalog.schema.json
var catalogSchema []byte

// LOVItem is one entry of a list of values.
type LOVItem struct {
	Value  any               `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	Label  any               `json:"label,omitempty"`
}

// Catalog describes the tables of an application.
type Catalog struct {
	Version  string      `json:"version"`
	Title    string      `json:"title,omitempty"`
	Icon     string      `json:"icon,omitempty"`
	Datagrid GridConfig  `json:"datagrid,omitempty"`
	Objects  []ObjectDef `json:"objects"`
}

type GridConfig struct {
	Defaults           GridDefaults              `json:"defaults"`
	LOVs               map[string][]LOVItem      `json:"lovs"`
	Filters            map[string]FilterDef      `json:"filters"`
	Columns            map[string]ColumnOverride `json:"columns"`
	Searchable         []string                  `json:"searchable_columns"`
	Identifier         string                    `json:"identifier,omitempty"`
	AutoReloadMS       int                       `json:"auto_reload_ms,omitempty"`
	ServerSide         bool                      `json:"server_side,omitempty"`
	SelectionOnRefresh ReconcileMode             `json:"selection_on_refresh,omitempty"`
	ExpandedOnRefresh  ReconcileMode             `json:"expanded_on_refresh,omitempty"`
}

type GridDefaults struct {
	PageSize      int            `json:"page_size"`
	SortColumn    string         `json:"sort_column"`
	SortDirection string         `json:"sort_direction"`
	Filters       map[string]any `json:"filters"`
	Search        string         `json:"search"`
}

// FilterDef maps a filter name to the column it filters.
type FilterDef struct {
	Column string `json:"column"`
	Type   string `json:"type"` // text, number, boolean, int_bool
}

type ColumnOverride struct {
	Visible *bool             `json:"visible,omitempty"`
	Labels  map[string]string `json:"labels"`
}

type ObjectDef struct {
	Name    string      `json:"name"`
	Columns []ColumnDef `json:"columns"`
}

type ColumnDef struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Labels     map[string]string `json:"labels"`
	LOV        any               `json:"lov,omitempty"`
	PrimaryKey bool              `json:"primary_key,omitempty"`
	Sortable   *bool             `json:"sortable,omitempty"`
}

// TableDef is a catalog object resolved for one language.
type TableDef struct {
	Object     string
	Title      string
	Types      map[string]string
	Searchable []string
	Filters    map[string]FilterDef
	Options    Options
}

// ValidateCatalog checks data against the catalog JSON schema.
func ValidateCatalog(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(catalogSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("validate catalog: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
}

// LoadCatalog reads and parses the catalog at path. See ParseCatalog.
func LoadCatalog(ctx context.Context, path, lang string, db *sql.DB) (*TableDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(ctx, data, lang, db)
}

// ParseCatalog validates data and resolves its first object into table
// options for lang, falling back to English labels. A string LOV is a
// query returning (value, label) rows; it is skipped when db is nil.
func ParseCatalog(ctx context.Context, data []byte, lang string, db *sql.DB) (*TableDef, error) {
	if err := ValidateCatalog(data); err != nil {
		return nil, err
	}
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(cat.Objects) == 0 {
		return nil, errors.New("no objects found in catalog")
	}

	obj := cat.Objects[0]
	grid := cat.Datagrid
	def := &TableDef{
		Object:     obj.Name,
		Title:      cat.Title,
		Types:      make(map[string]string, len(obj.Columns)),
		Searchable: grid.Searchable,
		Filters:    grid.Filters,
	}

	// filter definitions keyed by the column they act on
	byColumn := make(map[string]string, len(grid.Filters))
	for name, f := range grid.Filters {
		col := f.Column
		if col == "" {
			col = name
		}
		byColumn[col] = name
	}

	opts := Options{
		Identifier:               grid.Identifier,
		ForceIdentifier:          grid.Identifier != "",
		PageSize:                 grid.Defaults.PageSize,
		Search:                   grid.Defaults.Search,
		ServerSide:               grid.ServerSide,
		UpdateSelectionOnRefresh: grid.SelectionOnRefresh,
		UpdateExpandedOnRefresh:  grid.ExpandedOnRefresh,
	}
	switch {
	case grid.AutoReloadMS > 0:
		opts.AutoReload = time.Duration(grid.AutoReloadMS) * time.Millisecond
	case grid.AutoReloadMS < 0:
		opts.AutoReload = -1
	}
	if sc := grid.Defaults.SortColumn; sc != "" {
		dir := SortAsc
		if strings.EqualFold(grid.Defaults.SortDirection, "desc") {
			dir = SortDesc
		}
		opts.Sorts = []SortSpec{{Prop: sc, Dir: dir}}
	}

	for _, cd := range obj.Columns {
		def.Types[cd.Name] = strings.ToLower(cd.Type)
		label := resolveLabel(cd.Labels, lang, cd.Name)
		col := Column{
			Name:     label,
			Prop:     cd.Name,
			Sortable: cd.Sortable == nil || *cd.Sortable,
		}
		if o, ok := grid.Columns[cd.Name]; ok {
			if o.Visible != nil {
				col.Hidden = !*o.Visible
			}
			col.Name = resolveLabel(o.Labels, lang, label)
		}
		if def.Types[cd.Name] == CellSparkline {
			col.CellTransformation = CellSparkline
		}
		if cd.PrimaryKey && opts.Identifier == "" {
			opts.Identifier = cd.Name
			opts.ForceIdentifier = true
		}

		items := grid.LOVs[cd.Name]
		inline, err := inlineLOV(ctx, db, cd.LOV, lang)
		if err != nil {
			return nil, fmt.Errorf("lov for column %s: %w", cd.Name, err)
		}
		items = append(items, inline...)
		if len(items) > 0 {
			col.Filterable = true
			applyLOV(&col, items, lang)
		}
		if name, ok := byColumn[cd.Name]; ok {
			col.Filterable = true
			col.FilterPredicate = filterPredicate(grid.Filters[name], cd.Name)
			if v, ok := grid.Defaults.Filters[name]; ok {
				col.FilterInitValue = v
			}
			delete(byColumn, cd.Name)
		}
		opts.Columns = append(opts.Columns, col)
	}

	// filters on columns the object does not display
	extra := slices.Sorted(maps.Keys(byColumn))
	for _, colName := range extra {
		name := byColumn[colName]
		f := grid.Filters[name]
		col := Column{Name: name, Prop: colName, Filterable: true, FilterPredicate: filterPredicate(f, colName)}
		if items := grid.LOVs[colName]; len(items) > 0 {
			applyLOV(&col, items, lang)
		}
		if v, ok := grid.Defaults.Filters[name]; ok {
			col.FilterInitValue = v
		}
		opts.ExtraFilterableColumns = append(opts.ExtraFilterableColumns, col)
	}

	def.Options = opts
	return def, nil
}

func resolveLabel(labels map[string]string, lang, fallback string) string {
	if l, ok := labels[lang]; ok {
		return l
	}
	if l, ok := labels["en"]; ok {
		return l
	}
	return fallback
}

func inlineLOV(ctx context.Context, db *sql.DB, lov any, lang string) ([]LOVItem, error) {
	switch v := lov.(type) {
	case string:
		if db == nil {
			return nil, nil
		}
		rows, err := db.QueryContext(ctx, strings.ReplaceAll(v, "{lang}", lang))
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var items []LOVItem
		for rows.Next() {
			var val, lbl string
			if err := rows.Scan(&val, &lbl); err != nil {
				return nil, err
			}
			items = append(items, LOVItem{Value: val, Label: lbl})
		}
		return items, rows.Err()
	case []any:
		var items []LOVItem
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			li := LOVItem{Value: m["value"], Label: m["label"]}
			if labels, ok := m["labels"].(map[string]any); ok {
				li.Labels = make(map[string]string, len(labels))
				for k, l := range labels {
					if s, ok := l.(string); ok {
						li.Labels[k] = s
					}
				}
			}
			items = append(items, li)
		}
		return items, nil
	}
	return nil, nil
}

// applyLOV turns the items into static filter options with their labels as
// the formatted value.
func applyLOV(col *Column, items []LOVItem, lang string) {
	labels := make(map[string]string, len(items))
	for _, item := range items {
		col.FilterOptions = append(col.FilterOptions, item.Value)
		fallback := stringValue(item.Value)
		if item.Label != nil {
			fallback = stringValue(item.Label)
		}
		labels[stringValue(item.Value)] = resolveLabel(item.Labels, lang, fallback)
	}
	col.Pipe = func(v any) any {
		if l, ok := labels[stringValue(v)]; ok {
			return l
		}
		return v
	}
}

func filterPredicate(f FilterDef, prop string) func(Row, string) bool {
	if f.Type != "int_bool" {
		return nil
	}
	return func(row Row, raw string) bool {
		v, _ := row.Get(prop)
		n, ok := toFloat(v)
		if !ok {
			b, isBool := v.(bool)
			return isBool && b == (raw == "true")
		}
		return (n != 0) == (raw == "true" || raw == "1")
	}
}
