// Package cacheutil provides the read-through account/mint cache the fee
// calculator and payment verifier consult before hitting RPC, per design
// note 9(c): an LRU-backed in-process cache with TTL expiry and an
// explicit force-refresh escape hatch, plus a fully deterministic stub
// for tests.
package cacheutil

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is the cached payload: raw account bytes plus the owner program,
// general enough for both mint and token-account state.
type Entry struct {
	Data      []byte
	Owner     string
	FetchedAt time.Time
}

// Fetcher retrieves an account's current on-chain bytes, invoked on a
// cache miss or forced refresh.
type Fetcher func(ctx context.Context, address string) (Entry, error)

// Cache is the capability interface the core depends on.
type Cache interface {
	Get(ctx context.Context, address string, forceRefresh bool, fetch Fetcher) (Entry, error)
	Invalidate(address string)
}

// LRUCache is an LRU-backed, TTL-expiring implementation.
type LRUCache struct {
	mu    sync.Mutex
	items *lru.Cache[string, cachedItem]
	ttl   time.Duration
}

type cachedItem struct {
	entry     Entry
	expiresAt time.Time
}

// NewLRUCache builds a Cache with the given capacity and default TTL.
func NewLRUCache(size int, ttl time.Duration) (*LRUCache, error) {
	items, err := lru.New[string, cachedItem](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{items: items, ttl: ttl}, nil
}

// Get returns the cached entry for address, fetching and storing it on a
// miss, an expired entry, or when forceRefresh is set.
func (c *LRUCache) Get(ctx context.Context, address string, forceRefresh bool, fetch Fetcher) (Entry, error) {
	c.mu.Lock()
	if !forceRefresh {
		if item, ok := c.items.Get(address); ok && time.Now().Before(item.expiresAt) {
			c.mu.Unlock()
			return item.entry, nil
		}
	}
	c.mu.Unlock()

	entry, err := fetch(ctx, address)
	if err != nil {
		return Entry{}, err
	}

	c.mu.Lock()
	c.items.Add(address, cachedItem{entry: entry, expiresAt: time.Now().Add(c.ttl)})
	c.mu.Unlock()

	return entry, nil
}

// Invalidate removes an address from the cache immediately.
func (c *LRUCache) Invalidate(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(address)
}

// StubCache is a deterministic, TTL-free implementation for tests: it
// always returns whatever was last fetched (or seeded) and only calls
// fetch on a genuine miss or an explicit Invalidate/forceRefresh.
type StubCache struct {
	mu    sync.Mutex
	items map[string]Entry
}

// NewStubCache builds an empty StubCache, optionally pre-seeded.
func NewStubCache(seed map[string]Entry) *StubCache {
	items := make(map[string]Entry, len(seed))
	for k, v := range seed {
		items[k] = v
	}
	return &StubCache{items: items}
}

func (c *StubCache) Get(ctx context.Context, address string, forceRefresh bool, fetch Fetcher) (Entry, error) {
	c.mu.Lock()
	if !forceRefresh {
		if entry, ok := c.items[address]; ok {
			c.mu.Unlock()
			return entry, nil
		}
	}
	c.mu.Unlock()

	entry, err := fetch(ctx, address)
	if err != nil {
		return Entry{}, err
	}

	c.mu.Lock()
	c.items[address] = entry
	c.mu.Unlock()
	return entry, nil
}

func (c *StubCache) Invalidate(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, address)
}
