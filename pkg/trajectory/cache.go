package trajectory

import (
	"sync"
	"time"
)

// Cache is a short-TTL, per-agent Context cache (spec §4.10) that
// spares the Guardian/Conductor analyzers a reasoning-event table
// scan on every cycle when nothing changed since the last one.
type Cache struct {
	mu  sync.Mutex
	ttl time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	ctx       *Context
	expiresAt time.Time
}

// NewCache creates a Cache with the given per-entry TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Get returns the cached Context for agentID if present and unexpired.
func (c *Cache) Get(agentID string) (*Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[agentID]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.ctx, true
}

// Set stores ctx for agentID with this cache's TTL.
func (c *Cache) Set(agentID string, ctx *Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[agentID] = cacheEntry{ctx: ctx, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate drops agentID's cached entry, if any.
func (c *Cache) Invalidate(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, agentID)
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
