package directory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// CacheConfig holds configuration for the lookup cache
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before cleanup
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for directory caching
var DefaultCacheConfig = CacheConfig{
	TTL:             5 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: time.Minute,
}

type cacheEntry struct {
	record     *Record // nil for a cached miss
	expiresAt  time.Time
	accessedAt time.Time
}

// Cached remembers lookups of another Directory, including misses.
type Cached struct {
	next Directory

	mu         sync.Mutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	hits       int
	misses     int

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewCached wraps next with a TTL cache and starts its cleanup goroutine.
// Callers must Close it.
func NewCached(next Directory, config CacheConfig) *Cached {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}
	c := &Cached{
		next:        next,
		entries:     make(map[string]*cacheEntry),
		ttl:         config.TTL,
		maxEntries:  config.MaxEntries,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop(config.CleanupInterval)
	return c
}

// RecordWithUID implements Directory.
func (c *Cached) RecordWithUID(ctx context.Context, uid string) (*Record, error) {
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.entries[uid]; ok && now.Before(entry.expiresAt) {
		entry.accessedAt = now
		c.hits++
		rec := entry.record
		c.mu.Unlock()
		if rec == nil {
			return nil, ErrNotFound
		}
		cp := *rec
		return &cp, nil
	}
	c.misses++
	c.mu.Unlock()

	rec, err := c.next.RecordWithUID(ctx, uid)
	if err != nil && !errors.Is(err, ErrNotFound) {
		// transient failures are not cached
		return nil, err
	}

	c.mu.Lock()
	c.entries[uid] = &cacheEntry{record: rec, expiresAt: now.Add(c.ttl), accessedAt: now}
	if len(c.entries) > c.maxEntries {
		c.cleanup(now)
	}
	c.mu.Unlock()

	if rec == nil {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Invalidate forgets uid.
func (c *Cached) Invalidate(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uid)
}

// cleanup removes expired entries, then the least recently used ones until
// the cache fits. c.mu must be held.
func (c *Cached) cleanup(now time.Time) {
	for uid, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, uid)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}
	uids := make([]string, 0, len(c.entries))
	for uid := range c.entries {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool {
		return c.entries[uids[i]].accessedAt.Before(c.entries[uids[j]].accessedAt)
	})
	for _, uid := range uids[:len(uids)-c.maxEntries] {
		delete(c.entries, uid)
	}
}

func (c *Cached) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			c.mu.Lock()
			c.cleanup(now)
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache
func (c *Cached) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// CacheStats provides information about cache performance
type CacheStats struct {
	Entries int
	Hits    int
	Misses  int
}

// Stats returns cache statistics
func (c *Cached) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
