package knowledge

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is an in-process Cache bounded by size with per-entry TTL.
type LRUCache struct {
	lru *expirable.LRU[string, GateDecision]
}

var _ Cache = (*LRUCache)(nil)

// NewLRUCache creates a cache holding at most size entries for ttl each.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	return &LRUCache{lru: expirable.NewLRU[string, GateDecision](size, nil, ttl)}
}

// Get implements Cache.
func (c *LRUCache) Get(_ context.Context, key string) (GateDecision, bool) {
	return c.lru.Get(key)
}

// Add implements Cache.
func (c *LRUCache) Add(_ context.Context, key string, d GateDecision) {
	c.lru.Add(key, d)
}

// Len returns the number of cached entries, including expired ones not yet
// reaped.
func (c *LRUCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *LRUCache) Purge() {
	c.lru.Purge()
}
