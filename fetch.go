package datatable

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ErrorConfig is set by a data source before it completes a fetch.
type ErrorConfig struct {
	// DisplayError switches the table to the error status.
	DisplayError bool
	// ResetData empties the displayed rows.
	ResetData bool
}

// FetchContext is the one-shot request handed to a Fetcher for each refresh
// cycle. The fetcher answers with SetRows/SetCount or Fail and then calls
// Done exactly once; later calls are ignored.
type FetchContext struct {
	ID      string
	Offset  int
	Limit   int
	Search  string
	Sort    string
	Filters map[string]string

	ErrorConfig ErrorConfig

	ctx      context.Context
	complete func(*FetchContext) error
	once     sync.Once
	finished chan struct{}

	mu       sync.Mutex
	rows     []Row
	hasRows  bool
	count    int
	hasCount bool
	err      error
	result   error
}

func newFetchContext(ctx context.Context, cfg ViewConfig, filters map[string]string, complete func(*FetchContext) error) *FetchContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &FetchContext{
		ID:       uuid.NewString(),
		Offset:   cfg.Offset,
		Limit:    cfg.Limit,
		Search:   cfg.Search,
		Sort:     cfg.Sort().String(),
		Filters:  filters,
		ctx:      ctx,
		complete: complete,
		finished: make(chan struct{}),
	}
}

// Context is cancelled when the table is closed.
func (c *FetchContext) Context() context.Context {
	return c.ctx
}

// SetRows replaces the table data with rows on completion.
func (c *FetchContext) SetRows(rows []Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = rows
	c.hasRows = true
}

// SetCount reports the total row count of a server-side source.
func (c *FetchContext) SetCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = n
	c.hasCount = true
}

// Fail records err and asks the table to display the error status.
func (c *FetchContext) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.ErrorConfig.DisplayError = true
}

// Err returns the error passed to Fail.
func (c *FetchContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done completes the cycle. It returns the derivation error of the table,
// such as an IdentifierError for the delivered rows.
func (c *FetchContext) Done() error {
	c.once.Do(func() {
		err := c.complete(c)
		c.mu.Lock()
		c.result = err
		c.mu.Unlock()
		close(c.finished)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *FetchContext) outcome() (rows []Row, hasRows bool, count int, hasCount bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows, c.hasRows, c.count, c.hasCount, c.err
}

func (c *FetchContext) resultErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Fetcher is the external data source of a table.
type Fetcher interface {
	Fetch(fc *FetchContext)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(fc *FetchContext)

func (f FetcherFunc) Fetch(fc *FetchContext) { f(fc) }
