package follow

import (
	"sync"
	"time"
)

// Memo caches the last search result for one list.
// The result is recomputed only when the list is replaced or the query changes.
type Memo struct {
	mu       sync.Mutex
	searcher *Searcher
	users    []UserRecord
	gen      uint64

	computed    bool
	resultGen   uint64
	resultQuery string
	result      []UserRecord
}

// NewMemo creates a Memo over users. A nil searcher uses root collation.
func NewMemo(searcher *Searcher, users []UserRecord) *Memo {
	if searcher == nil {
		searcher = defaultSearcher
	}
	return &Memo{searcher: searcher, users: users}
}

// Replace swaps in a freshly fetched list and invalidates the cached result.
func (m *Memo) Replace(users []UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = users
	m.gen++
}

// Users returns the current list.
func (m *Memo) Users() []UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users
}

// Search returns the ranked result for query, reusing the previous result
// when neither the list nor the query changed.
func (m *Memo) Search(query string) []UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.computed && m.resultGen == m.gen && m.resultQuery == query {
		return m.result
	}
	m.result = m.searcher.Search(m.users, query)
	m.resultGen = m.gen
	m.resultQuery = query
	m.computed = true
	return m.result
}

// Entry is a snapshot of one cached followings list. The cache hands out
// copies; only Memo is shared, and it locks internally.
type Entry struct {
	TotalCount int
	Memo       *Memo
	FetchedAt  time.Time
}

// ListCache keeps recently fetched followings lists so that typing a query
// filters locally instead of refetching, like a page that loaded once.
// Thread-safe for concurrent access.
type ListCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	searcher *Searcher
	entries  map[string]Entry
	timeNow  func() time.Time
}

// NewListCache creates a cache whose entries live for ttl.
// A ttl <= 0 disables caching; Get always misses.
func NewListCache(ttl time.Duration, searcher *Searcher) *ListCache {
	if searcher == nil {
		searcher = defaultSearcher
	}
	return &ListCache{
		ttl:      ttl,
		searcher: searcher,
		entries:  make(map[string]Entry),
		timeNow:  time.Now,
	}
}

// Get returns the live entry for key, if any.
func (c *ListCache) Get(key string) (Entry, bool) {
	if c.ttl <= 0 {
		return Entry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if c.timeNow().Sub(e.FetchedAt) > c.ttl {
		delete(c.entries, key)
		return Entry{}, false
	}
	return e, true
}

// Put stores a fetched list under key. An existing entry keeps its memo,
// which is invalidated rather than rebuilt.
func (c *ListCache) Put(key string, resp ListResponse) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var memo *Memo
	if prev, ok := c.entries[key]; ok {
		memo = prev.Memo
		memo.Replace(resp.Users)
	} else {
		memo = NewMemo(c.searcher, resp.Users)
	}

	e := Entry{
		TotalCount: resp.TotalCount,
		Memo:       memo,
		FetchedAt:  c.timeNow(),
	}
	if c.ttl > 0 {
		c.entries[key] = e
	}
	return e
}

// Invalidate drops the entry for key.
func (c *ListCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Cleanup removes expired entries. Call periodically.
func (c *ListCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.timeNow()
	for key, e := range c.entries {
		if now.Sub(e.FetchedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached entries.
func (c *ListCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
