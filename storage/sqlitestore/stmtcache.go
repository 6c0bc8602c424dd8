package sqlitestore

import (
	"container/list"
	"database/sql"
	"sync"
)

// stmtCache is an LRU of prepared statements keyed by normalized SQL
// text, bounded so memory on the remote engine doesn't grow unbounded
// (spec.md §4.1).
type stmtCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List

	prepares, hits, misses int64
}

type stmtEntry struct {
	query string
	stmt  *sql.Stmt
}

func newStmtCache(capacity int) *stmtCache {
	return &stmtCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *stmtCache) get(query string) (*sql.Stmt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[query]; ok {
		c.order.MoveToFront(el)
		c.hits++
		return el.Value.(*stmtEntry).stmt, true
	}
	c.misses++
	return nil, false
}

func (c *stmtCache) put(query string, stmt *sql.Stmt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepares++

	if el, ok := c.items[query]; ok {
		c.order.MoveToFront(el)
		el.Value.(*stmtEntry).stmt = stmt
		return
	}

	el := c.order.PushFront(&stmtEntry{query: query, stmt: stmt})
	c.items[query] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*stmtEntry)
		entry.stmt.Close()
		delete(c.items, entry.query)
		c.order.Remove(oldest)
	}
}

// clear evicts and closes every cached statement; the keepalive loop
// calls it every 10 ticks to bound memory (spec.md §4.1).
func (c *stmtCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, el := range c.items {
		el.Value.(*stmtEntry).stmt.Close()
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func (c *stmtCache) stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"prepares": c.prepares,
		"hits":     c.hits,
		"misses":   c.misses,
		"size":     c.order.Len(),
	}
}
