// File: pkg/intercept/cache.go
package intercept

import (
	"net/url"
	"strings"
	"sync"
)

// Entry is one cached response, keyed by (method, normalized URL). Entries
// are immutable once written; repeated lookups return byte-identical bodies.
type Entry struct {
	Method  string
	URL     string
	Status  int
	Headers map[string]string
	Body    []byte
	// Size is the number of bytes transferred over the network when the
	// entry was recorded.
	Size int64
}

// Cache stores responses for the lifetime of one browser session. It is
// never shared across sessions.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	hits    map[string]int64
}

// NewCache creates an empty per-session cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		hits:    make(map[string]int64),
	}
}

// cacheKey normalizes the URL (fragment stripped, host lowercased) and joins
// it with the method.
func cacheKey(method, rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		u.Fragment = ""
		u.Host = strings.ToLower(u.Host)
		rawURL = u.String()
	}
	return strings.ToUpper(method) + " " + rawURL
}

// Get returns the cached entry for (method, url), or nil.
func (c *Cache) Get(method, rawURL string) *Entry {
	key := cacheKey(method, rawURL)
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key]
	if e != nil {
		c.hits[key]++
	}
	return e
}

// Put records an entry. The first write wins: entries are immutable, so a
// later response for the same key never replaces what a condition or plugin
// may already have observed.
func (c *Cache) Put(e *Entry) {
	key := cacheKey(e.Method, e.URL)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	c.entries[key] = e
}

// Hits returns how many times the entry for (method, url) was served.
func (c *Cache) Hits(method, rawURL string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[cacheKey(method, rawURL)]
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
