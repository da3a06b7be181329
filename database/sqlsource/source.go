// Package sqlsource answers server-side table fetches with SQL page queries.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/gnemet/datatable"
	"github.com/gnemet/datatable/database"
)

// Source is a datatable.Fetcher over one SQL table or view.
type Source struct {
	db          *sql.DB
	dialect     database.Dialect
	table       string
	columns     []string
	searchable  []datatable.Column
	filterTypes map[string]string
	identifier  string

	cursors *CursorPool
	limiter *rate.Limiter
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Source)

// WithSearchable limits free-text search to the given columns. By default
// every column is searched.
func WithSearchable(cols ...datatable.Column) Option {
	return func(s *Source) { s.searchable = cols }
}

// WithFilterTypes sets the value type (text, number, boolean, int_bool) of
// filtered columns.
func WithFilterTypes(types map[string]string) Option {
	return func(s *Source) { s.filterTypes = types }
}

func WithIdentifier(col string) Option {
	return func(s *Source) { s.identifier = col }
}

// WithRateLimit bounds the number of queries per second sent to the database.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Source) { s.limiter = rate.NewLimiter(limit, burst) }
}

// WithCursors pages through Postgres scroll cursors instead of LIMIT/OFFSET.
func WithCursors(p *CursorPool) Option {
	return func(s *Source) { s.cursors = p }
}

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) { s.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// New creates a source selecting columns from table.
func New(db *sql.DB, dialect database.Dialect, table string, columns []datatable.Column, opts ...Option) (*Source, error) {
	if !database.ValidIdent(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if len(columns) == 0 {
		return nil, datatable.ErrNoColumns
	}
	s := &Source{
		db:         db,
		dialect:    dialect,
		table:      table,
		searchable: columns,
		identifier: columns[0].Prop,
		timeout:    30 * time.Second,
		logger:     slog.Default(),
	}
	for _, c := range columns {
		if !database.ValidIdent(c.Prop) {
			return nil, fmt.Errorf("invalid column name %q", c.Prop)
		}
		s.columns = append(s.columns, c.Prop)
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.isColumn(s.identifier) {
		return nil, fmt.Errorf("identifier %q is not a column of %s", s.identifier, table)
	}
	for col := range s.filterTypes {
		if !database.ValidIdent(col) {
			return nil, fmt.Errorf("invalid filter column %q", col)
		}
	}
	if s.cursors != nil && dialect != database.Postgres {
		return nil, errors.New("cursor paging needs postgres")
	}
	s.logger = s.logger.With("source", table)
	return s, nil
}

// FromDef creates a source for a catalog table. Searchable columns come
// from the catalog or default to text-like columns.
func FromDef(db *sql.DB, dialect database.Dialect, def *datatable.TableDef, opts ...Option) (*Source, error) {
	cols := def.Options.Columns
	var searchable []datatable.Column
	if len(def.Searchable) > 0 {
		for _, name := range def.Searchable {
			for _, c := range cols {
				if c.Prop == name {
					searchable = append(searchable, c)
				}
			}
		}
	} else {
		for _, c := range cols {
			switch def.Types[c.Prop] {
			case "", "text", "varchar", "string":
				searchable = append(searchable, c)
			}
		}
	}

	types := make(map[string]string, len(def.Filters))
	for name, f := range def.Filters {
		col := f.Column
		if col == "" {
			col = name
		}
		types[col] = f.Type
	}

	base := []Option{WithSearchable(searchable...), WithFilterTypes(types)}
	if id := def.Options.Identifier; id != "" {
		base = append(base, WithIdentifier(id))
	}
	return New(db, dialect, def.Object, cols, append(base, opts...)...)
}

// Fetch runs the page query in the background and completes fc.
func (s *Source) Fetch(fc *datatable.FetchContext) {
	s.fetch(fc, queryOf(fc))
}

// All returns a fetcher loading every row, for tables that filter, sort
// and page locally.
func (s *Source) All() datatable.Fetcher {
	return datatable.FetcherFunc(func(fc *datatable.FetchContext) {
		s.fetch(fc, Query{})
	})
}

func (s *Source) fetch(fc *datatable.FetchContext, q Query) {
	go func() {
		ctx, cancel := context.WithTimeout(fc.Context(), s.timeout)
		defer cancel()

		rows, count, err := s.Page(ctx, q)
		if err != nil {
			s.logger.Error("Fetch failed", "fetch_id", fc.ID, "error", err)
			fc.Fail(err)
		} else {
			fc.SetRows(rows)
			fc.SetCount(count)
		}
		if err := fc.Done(); err != nil {
			s.logger.Warn("Table rejected rows", "fetch_id", fc.ID, "error", err)
		}
	}()
}

type page struct {
	rows  []datatable.Row
	count int
}

// Page returns the rows of q and the total count of matching rows.
// Identical concurrent queries share one round trip.
func (s *Source) Page(ctx context.Context, q Query) ([]datatable.Row, int, error) {
	st := s.build(q)
	key := fmt.Sprintf("%d/%d/%s", q.Offset, q.Limit, st.key())
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.query(ctx, st, q)
	})
	if err != nil {
		return nil, 0, err
	}
	if shared {
		s.logger.Debug("Shared page query", "key", key)
	}
	p := v.(page)
	// callers own their rows
	rows := make([]datatable.Row, len(p.rows))
	for i, r := range p.rows {
		rows[i] = maps.Clone(r)
	}
	return rows, p.count, nil
}

func (s *Source) query(ctx context.Context, st statement, q Query) (page, error) {
	if err := s.wait(ctx); err != nil {
		return page{}, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, st.count(s.table), st.args...).Scan(&total); err != nil {
		return page{}, fmt.Errorf("count %s: %w", s.table, err)
	}

	var records []map[string]any
	var err error
	if s.cursors != nil && q.Limit > 0 {
		records, err = s.cursorPage(ctx, st, q)
	} else {
		records, err = s.directPage(ctx, st, q)
	}
	if err != nil {
		return page{}, err
	}

	rows := make([]datatable.Row, len(records))
	for i, r := range records {
		rows[i] = datatable.Row(r)
	}
	return page{rows: rows, count: total}, nil
}

func (s *Source) directPage(ctx context.Context, st statement, q Query) ([]map[string]any, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, st.page(s.table, s.columns, q), st.args...)
	if err != nil {
		return nil, fmt.Errorf("direct query failed: %w", err)
	}
	defer rows.Close()
	return database.ScanRows(rows)
}

func (s *Source) cursorPage(ctx context.Context, st statement, q Query) ([]map[string]any, error) {
	sid := s.table + "|" + st.key()
	if _, err := s.cursors.InitializeCursor(ctx, sid, st.selectAll(s.table, s.columns), st.args...); err != nil {
		return nil, err
	}
	return s.cursors.FetchPage(ctx, sid, q.Offset*q.Limit, q.Limit)
}

func (s *Source) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}
