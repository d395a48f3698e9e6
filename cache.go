package apiclient

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// LookupResult is the outcome of a cache lookup. A miss is a result, not an error.
type LookupResult int

const (
	CacheMiss LookupResult = iota
	CacheHit
	// CacheStale is an expired entry still inside the store's stale grace.
	CacheStale
)

func (r LookupResult) String() string {
	switch r {
	case CacheHit:
		return "hit"
	case CacheStale:
		return "stale"
	default:
		return "miss"
	}
}

// CacheEntry is a cached response plus its freshness metadata.
type CacheEntry struct {
	Value     *Response
	CreatedAt time.Time
	TTL       time.Duration
}

// ExpiresAt returns CreatedAt + TTL.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// IsExpired reports whether now is past the entry's TTL.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// CacheStore maps a fingerprint to a cached response.
//
// Put, Invalidate and InvalidateAll may fail when a store is backed by a
// remote provider; the client logs and swallows those failures.
type CacheStore interface {
	Lookup(ctx context.Context, fp string) (*CacheEntry, LookupResult)
	Put(ctx context.Context, fp string, value *Response, ttl time.Duration) error
	Invalidate(ctx context.Context, fp string) error
	InvalidateAll(ctx context.Context) error
}

func classifyEntry(entry *CacheEntry, now time.Time, staleGrace time.Duration) LookupResult {
	if !entry.IsExpired(now) {
		return CacheHit
	}
	if staleGrace > 0 && !now.After(entry.ExpiresAt().Add(staleGrace)) {
		return CacheStale
	}
	return CacheMiss
}

// InMemoryCache is a sharded, process-local CacheStore. Expiry is lazy:
// entries are dropped when read past their TTL plus stale grace.
type InMemoryCache struct {
	shards     []*cacheShard
	numShards  int
	clock      clock.Clock
	staleGrace time.Duration
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates an in-memory cache. A nil clock uses wall time.
func NewInMemoryCache(clk clock.Clock, staleGrace time.Duration) *InMemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &InMemoryCache{
		shards:     shards,
		numShards:  numShards,
		clock:      clk,
		staleGrace: staleGrace,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

func (c *InMemoryCache) Lookup(_ context.Context, fp string) (*CacheEntry, LookupResult) {
	shard := c.getShard(fp)
	shard.mu.RLock()
	entry, exists := shard.store[fp]
	shard.mu.RUnlock()

	if !exists {
		return nil, CacheMiss
	}

	result := classifyEntry(entry, c.clock.Now(), c.staleGrace)
	if result == CacheMiss {
		shard.mu.Lock()
		if shard.store[fp] == entry {
			delete(shard.store, fp)
		}
		shard.mu.Unlock()
		return nil, CacheMiss
	}

	return entry, result
}

// Put overwrites the entry for fp. A non-positive ttl stores nothing.
func (c *InMemoryCache) Put(_ context.Context, fp string, value *Response, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	shard := c.getShard(fp)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.store[fp] = &CacheEntry{
		Value:     value,
		CreatedAt: c.clock.Now(),
		TTL:       ttl,
	}
	return nil
}

func (c *InMemoryCache) Invalidate(_ context.Context, fp string) error {
	shard := c.getShard(fp)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, fp)
	return nil
}

func (c *InMemoryCache) InvalidateAll(_ context.Context) error {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet read.
func (c *InMemoryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}
