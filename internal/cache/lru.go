// Package cache implements the two-tier response cache: an in-process
// LRU with TTL and byte budget, optionally backed by Redis.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/sells-group/collector-cli/internal/metrics"
)

// LRUConfig bounds the in-process tier.
type LRUConfig struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

// DefaultLRUConfig holds a modest working set.
func DefaultLRUConfig() LRUConfig {
	return LRUConfig{MaxEntries: 1000, MaxBytes: 64 << 20, TTL: time.Hour}
}

type lruEntry struct {
	key       string
	value     []byte
	size      int64
	expiresAt time.Time
}

// LRU is a TTL-aware, byte-budgeted LRU cache. Expiry is checked on
// read; eviction runs on write until both the entry and byte caps hold.
type LRU struct {
	cfg LRUConfig

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	bytes int64
	now   func() time.Time
}

func NewLRU(cfg LRUConfig) *LRU {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &LRU{
		cfg:   cfg,
		ll:    list.New(),
		items: map[string]*list.Element{},
		now:   time.Now,
	}
}

// Get returns the cached value and whether it was present. Expired
// entries are removed on access and count as misses.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		metrics.Default().CacheMisses.Inc()
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(el)
		metrics.Default().CacheMisses.Inc()
		return nil, false
	}
	c.ll.MoveToFront(el)
	metrics.Default().CacheHits.Inc()
	return entry.value, true
}

// Set stores the value. Values larger than the byte budget are refused
// and the cache is left untouched.
func (c *LRU) Set(key string, value []byte) bool {
	size := int64(len(value))
	if size > c.cfg.MaxBytes {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}

	entry := &lruEntry{
		key:       key,
		value:     value,
		size:      size,
		expiresAt: c.now().Add(c.cfg.TTL),
	}
	el := c.ll.PushFront(entry)
	c.items[key] = el
	c.bytes += size

	for c.ll.Len() > c.cfg.MaxEntries || c.bytes > c.cfg.MaxBytes {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		metrics.Default().CacheEvictions.Inc()
	}

	metrics.Default().CacheBytes.Set(float64(c.bytes))
	return true
}

// Delete removes a key if present.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
		metrics.Default().CacheBytes.Set(float64(c.bytes))
	}
}

// Len returns the live entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Bytes returns the bytes currently held.
func (c *LRU) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *LRU) removeLocked(el *list.Element) {
	entry := el.Value.(*lruEntry)
	c.ll.Remove(el)
	delete(c.items, entry.key)
	c.bytes -= entry.size
}
