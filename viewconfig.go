package datatable

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
)

// DefaultLimit is the page size of a table without persisted state.
const DefaultLimit = 10

// ColumnState is the persisted visibility of one column.
type ColumnState struct {
	Prop     string `json:"prop"`
	Name     string `json:"name"`
	IsHidden bool   `json:"isHidden"`
}

// ViewConfig is the persisted per-table view state. Offset is the 0-based
// page index; a Limit of 0 shows every row.
type ViewConfig struct {
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	Search  string        `json:"search"`
	Sorts   []SortSpec    `json:"sorts"`
	Columns []ColumnState `json:"columns"`
}

// Clone returns a deep copy.
func (c ViewConfig) Clone() ViewConfig {
	c.Sorts = slices.Clone(c.Sorts)
	c.Columns = slices.Clone(c.Columns)
	return c
}

// Sort returns the active sort, if any.
func (c ViewConfig) Sort() SortSpec {
	if len(c.Sorts) == 0 {
		return SortSpec{}
	}
	return c.Sorts[0]
}

// ViewStore persists one JSON blob per table.
type ViewStore interface {
	// Load returns ErrViewNotFound when no state was saved under key.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
}

// viewState owns a table's ViewConfig. Every mutation goes through update,
// which writes the whole config through to the store.
type viewState struct {
	key    string
	store  ViewStore
	cfg    ViewConfig
	ctx    context.Context
	logger *slog.Logger
}

// loadViewConfig reads the persisted config. Absent or malformed blobs yield
// ok=false and the caller falls back to defaults.
func loadViewConfig(ctx context.Context, store ViewStore, key string, logger *slog.Logger) (ViewConfig, bool) {
	if store == nil {
		return ViewConfig{}, false
	}
	blob, err := store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrViewNotFound) {
			logger.Warn("Failed to load view state", "table", key, "error", err)
		}
		return ViewConfig{}, false
	}
	var cfg ViewConfig
	if err := json.Unmarshal(blob, &cfg); err != nil {
		logger.Debug("Ignoring malformed view state", "table", key, "error", err)
		return ViewConfig{}, false
	}
	if cfg.Limit < 0 || cfg.Offset < 0 {
		logger.Debug("Ignoring view state with negative paging", "table", key)
		return ViewConfig{}, false
	}
	return cfg, true
}

func (v *viewState) get() ViewConfig {
	return v.cfg.Clone()
}

func (v *viewState) update(fn func(*ViewConfig)) {
	fn(&v.cfg)
	v.save()
}

func (v *viewState) save() {
	if v.store == nil {
		return
	}
	blob, err := json.Marshal(v.cfg)
	if err != nil {
		v.logger.Warn("Failed to encode view state", "table", v.key, "error", err)
		return
	}
	ctx := v.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := v.store.Save(ctx, v.key, blob); err != nil {
		v.logger.Warn("Failed to save view state", "table", v.key, "error", err)
	}
}
