package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gnemet/datatable/database"
)

// CursorState is one Postgres scroll cursor held open in its own
// transaction.
type CursorState struct {
	SessionID  string
	CursorName string
	Conn       *sql.Conn
	Tx         *sql.Tx
	CreatedAt  time.Time
	LastUsed   time.Time
	Query      string
	sync.Mutex
}

// CursorPool keeps scroll cursors per session so paging through the same
// result set does not re-run the query.
type CursorPool struct {
	db          *sql.DB
	cursors     map[string]*CursorState
	mu          sync.Mutex
	idleTimeout time.Duration
	absTimeout  time.Duration
	maxCursors  int
	logger      *slog.Logger
	cleanupStop chan struct{}
	wg          sync.WaitGroup
}

// NewCursorPool starts a pool over db. Each cursor pins one connection, so
// maxCursors should stay below the connection limit of db.
func NewCursorPool(db *sql.DB, maxCursors int, idleTimeout, absTimeout time.Duration, logger *slog.Logger) *CursorPool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &CursorPool{
		db:          db,
		cursors:     make(map[string]*CursorState),
		idleTimeout: idleTimeout,
		absTimeout:  absTimeout,
		maxCursors:  maxCursors,
		logger:      logger,
		cleanupStop: make(chan struct{}),
	}
	p.startCleanupRoutine(cleanupInterval(idleTimeout))
	return p
}

func cleanupInterval(idle time.Duration) time.Duration {
	if idle > 0 && idle < 30*time.Second {
		return idle / 2
	}
	return 30 * time.Second
}

// Close stops the cleanup routine and releases every cursor. The database
// stays open.
func (p *CursorPool) Close() {
	close(p.cleanupStop)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for sid, state := range p.cursors {
		state.Lock()
		p.removeCursor(sid, state)
		state.Unlock()
	}
}

// Len returns the number of open cursors.
func (p *CursorPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cursors)
}

func (p *CursorPool) startCleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.cleanupTimeouts(time.Now())
			case <-p.cleanupStop:
				return
			}
		}
	}()
}

func (p *CursorPool) cleanupTimeouts(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for sid, state := range p.cursors {
		state.Lock()
		if p.expired(state, now) {
			p.logger.Info("Cleaning up expired cursor", "cursorname", state.CursorName)
			p.removeCursor(sid, state)
		}
		state.Unlock()
	}
}

func (p *CursorPool) expired(state *CursorState, now time.Time) bool {
	if p.absTimeout > 0 && now.Sub(state.CreatedAt) > p.absTimeout {
		return true
	}
	return p.idleTimeout > 0 && now.Sub(state.LastUsed) > p.idleTimeout
}

func (p *CursorPool) removeCursor(sid string, state *CursorState) {
	if state.Tx != nil {
		state.Tx.Rollback()
	}
	if state.Conn != nil {
		state.Conn.Close()
	}
	delete(p.cursors, sid)
}

// InitializeCursor declares a cursor for query or returns the one already
// open for sid.
func (p *CursorPool) InitializeCursor(ctx context.Context, sid, query string, args ...any) (*CursorState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state, exists := p.cursors[sid]; exists {
		state.Lock()
		defer state.Unlock()
		state.LastUsed = time.Now()
		return state, nil
	}

	if p.maxCursors > 0 && len(p.cursors) >= p.maxCursors {
		p.evictOldest()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	// the transaction outlives the request that opened the cursor
	tx, err := conn.BeginTx(context.WithoutCancel(ctx), &sql.TxOptions{ReadOnly: true})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}

	cursorName := "cur_" + uuid.New().String()[:8]
	declareSQL := fmt.Sprintf("DECLARE %s SCROLL CURSOR FOR %s", cursorName, query)
	if _, err := tx.ExecContext(ctx, declareSQL, args...); err != nil {
		tx.Rollback()
		conn.Close()
		return nil, fmt.Errorf("failed to declare cursor: %w", err)
	}

	now := time.Now()
	state := &CursorState{
		SessionID:  sid,
		CursorName: cursorName,
		Conn:       conn,
		Tx:         tx,
		CreatedAt:  now,
		LastUsed:   now,
		Query:      query,
	}
	p.cursors[sid] = state
	return state, nil
}

// evictOldest closes the least recently used cursor.
func (p *CursorPool) evictOldest() {
	var oldest *CursorState
	for _, state := range p.cursors {
		if oldest == nil || state.LastUsed.Before(oldest.LastUsed) {
			oldest = state
		}
	}
	if oldest == nil {
		return
	}
	oldest.Lock()
	p.logger.Debug("Evicting cursor", "cursorname", oldest.CursorName)
	p.removeCursor(oldest.SessionID, oldest)
	oldest.Unlock()
}

// BuildFetchQuery returns the statements positioning the cursor before the
// row at offset and fetching count rows from there.
func BuildFetchQuery(cursorName string, offset, count int) (move, fetch string) {
	q := strconv.Quote(cursorName)
	return fmt.Sprintf("MOVE ABSOLUTE %d FROM %s", offset, q),
		fmt.Sprintf("FETCH FORWARD %d FROM %s", count, q)
}

// FetchPage reads count rows starting at the 0-based row offset.
func (p *CursorPool) FetchPage(ctx context.Context, sid string, offset, count int) ([]map[string]any, error) {
	p.mu.Lock()
	state, ok := p.cursors[sid]
	p.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no active cursor for session %s", sid)
	}

	state.Lock()
	defer state.Unlock()
	state.LastUsed = time.Now()

	move, fetch := BuildFetchQuery(state.CursorName, offset, count)
	if _, err := state.Tx.ExecContext(ctx, move); err != nil {
		return nil, fmt.Errorf("move failed: %w", err)
	}
	rows, err := state.Tx.QueryContext(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer rows.Close()

	return database.ScanRows(rows)
}
