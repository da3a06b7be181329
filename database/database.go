// Package database holds the SQL dialects and connection setup shared by
// the view stores and the SQL data source.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect is a database/sql driver name understood by this package.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts the driver names and their common aliases.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Text casts a column to text for pattern matching.
func (d Dialect) Text(col string) string {
	if d == Postgres {
		return col + "::text"
	}
	return "CAST(" + col + " AS TEXT)"
}

// ContainsOp is the case-insensitive pattern operator.
func (d Dialect) ContainsOp() string {
	if d == Postgres {
		return "ILIKE"
	}
	return "LIKE"
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdent reports whether s can be used unquoted as a table or column name.
func ValidIdent(s string) bool {
	return identRe.MatchString(s)
}

// Config tunes the connection pool.
type Config struct {
	Dialect     Dialect
	DSN         string
	MaxConns    int
	IdleTimeout time.Duration
	AbsTimeout  time.Duration
}

// Open opens and pings a database.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(string(cfg.Dialect), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(max(1, cfg.MaxConns/2))
	}
	if cfg.AbsTimeout > 0 {
		db.SetConnMaxLifetime(cfg.AbsTimeout)
	}
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ScanRows reads every row into a map keyed by column name. Byte slices
// become strings.
func ScanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
