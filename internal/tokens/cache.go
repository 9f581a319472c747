// Package tokens keeps the API token table in memory and refreshes it from
// its repository in the background.
package tokens

import (
	"context"
	"sync"
)

// Entry is one API token's settings.
type Entry struct {
	// RateLimit is the number of requests allowed per limiter interval.
	// Zero disables the per-token limiter.
	RateLimit int
	Comment   string
}

// Repository loads the full token table.
type Repository interface {
	LoadTokens(ctx context.Context) (map[string]Entry, error)
}

// Cache is a read-mostly snapshot of the token table.
type Cache struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func NewCache() *Cache {
	return &Cache{}
}

// Replace swaps in a copy of m.
func (c *Cache) Replace(m map[string]Entry) {
	cp := make(map[string]Entry, len(m))
	for k, v := range m {
		cp[k] = v
	}
	c.mu.Lock()
	c.m = cp
	c.mu.Unlock()
}

// Ready returns true if the cache has been loaded at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m != nil
}

// Validate reports whether token is known.
func (c *Cache) Validate(token string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.m[token]
	return ok
}

// RateLimit returns the token's limit, or 0 for unknown tokens.
func (c *Cache) RateLimit(token string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[token].RateLimit
}

// Len returns the number of cached tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
