package viewstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gnemet/datatable"
	"github.com/gnemet/datatable/database"
)

const table = "datatable_view_state"

// SQLStore keeps view configs in the datatable_view_state table.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQL(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Init creates the table when missing.
func (s *SQLStore) Init(ctx context.Context) error {
	blobType := "BLOB"
	if s.dialect == database.Postgres {
		blobType = "BYTEA"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	state %s NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, table, blobType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, key string) ([]byte, error) {
	q := fmt.Sprintf("SELECT state FROM %s WHERE name = %s", table, s.dialect.Placeholder(1))
	var blob []byte
	err := s.db.QueryRowContext(ctx, q, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, datatable.ErrViewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load view state %s: %w", key, err)
	}
	return blob, nil
}

func (s *SQLStore) Save(ctx context.Context, key string, blob []byte) error {
	q := fmt.Sprintf(`INSERT INTO %s (name, state, updated_at) VALUES (%s, %s, %s)
ON CONFLICT (name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		table, s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3))
	if _, err := s.db.ExecContext(ctx, q, key, blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("save view state %s: %w", key, err)
	}
	return nil
}
