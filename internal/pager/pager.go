package pager

import (
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/guild-gatekeeper/internal/datacache"
)

// PageSize is the fixed number of records per page.
const PageSize = 10

// Cursor pages over an immutable snapshot of grant records. Navigation past
// either boundary is a clamped no-op.
type Cursor struct {
	mu      sync.Mutex
	records []datacache.GrantRecord
	page    int
}

// NewCursor wraps a snapshot, starting at page 0.
func NewCursor(records []datacache.GrantRecord) *Cursor {
	return &Cursor{records: append([]datacache.GrantRecord(nil), records...)}
}

// Count returns the total number of records.
func (c *Cursor) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// TotalPages is always at least 1, even for an empty snapshot.
func (c *Cursor) TotalPages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalPages()
}

func (c *Cursor) totalPages() int {
	if len(c.records) == 0 {
		return 1
	}
	return (len(c.records) + PageSize - 1) / PageSize
}

// PageIndex returns the current zero-based page.
func (c *Cursor) PageIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Page returns the records of the current page.
func (c *Cursor) Page() []datacache.GrantRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.page * PageSize
	if start >= len(c.records) {
		return nil
	}
	end := start + PageSize
	if end > len(c.records) {
		end = len(c.records)
	}
	return append([]datacache.GrantRecord(nil), c.records[start:end]...)
}

// Next advances one page. Returns false when already on the last page.
func (c *Cursor) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page >= c.totalPages()-1 {
		return false
	}
	c.page++
	return true
}

// Prev goes back one page. Returns false when already on page 0.
func (c *Cursor) Prev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page <= 0 {
		return false
	}
	c.page--
	return true
}

type entry struct {
	cursor *Cursor
	timer  *time.Timer
}

// Manager tracks live cursors and drops them after an idle interval. Each
// lookup resets the idle timer, matching the interactive view's lifetime.
type Manager struct {
	mu      sync.Mutex
	cursors map[string]*entry
	ttl     time.Duration
}

// NewManager creates a cursor manager with the given idle timeout.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		cursors: map[string]*entry{},
		ttl:     ttl,
	}
}

// Open registers a new cursor over the snapshot and returns its id.
func (m *Manager) Open(records []datacache.GrantRecord) (string, *Cursor, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate cursor id: %w", err)
	}

	cur := NewCursor(records)

	m.mu.Lock()
	m.cursors[id] = &entry{
		cursor: cur,
		timer: time.AfterFunc(m.ttl, func() {
			m.drop(id)
		}),
	}
	m.mu.Unlock()

	return id, cur, nil
}

// Get returns the cursor for id and resets its idle timer. The second value
// is false once the view has timed out.
func (m *Manager) Get(id string) (*Cursor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cursors[id]
	if !ok {
		return nil, false
	}
	e.timer.Reset(m.ttl)
	return e.cursor, true
}

func (m *Manager) drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, id)
}
