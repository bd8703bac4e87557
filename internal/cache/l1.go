package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// L1 is the in-process cache tier: bounded capacity with LRU eviction, per
// entry absolute expiry and a background sweeper. Values are opaque serialized
// payloads; entries are never mutated, replacement is atomic under the lock.
type L1 struct {
	mu         sync.RWMutex
	entries    map[string]*l1Entry
	maxEntries int

	stats l1Stats

	sweepEvery time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type l1Entry struct {
	payload     []byte
	createdAt   time.Time
	expiresAt   time.Time
	lastAccess  atomic.Int64 // unix nanos
	accessCount atomic.Int64
}

type l1Stats struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// L1Stats is the exported stats snapshot.
type L1Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Deletes   int64   `json:"deletes"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired_cleanups"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

// NewL1 creates the tier and starts its sweeper. maxEntries <= 0 falls back
// to 1000.
func NewL1(maxEntries int, sweepEvery time.Duration) *L1 {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	c := &L1{
		entries:    make(map[string]*l1Entry),
		maxEntries: maxEntries,
		sweepEvery: sweepEvery,
		stopCh:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the payload if present and unexpired.
func (c *L1) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists || time.Now().After(entry.expiresAt) {
		c.stats.misses.Add(1)
		return nil, false
	}

	entry.lastAccess.Store(time.Now().UnixNano())
	entry.accessCount.Add(1)
	c.stats.hits.Add(1)
	return entry.payload, true
}

// TTL returns the remaining lifetime of a live entry.
func (c *L1) TTL(key string) (time.Duration, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return 0, false
	}
	remaining := time.Until(entry.expiresAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// Set stores payload under key with ttl, evicting the least recently used
// entry when at capacity.
func (c *L1) Set(key string, payload []byte, ttl time.Duration) {
	now := time.Now()
	entry := &l1Entry{
		payload:   payload,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	entry.lastAccess.Store(now.UnixNano())

	c.mu.Lock()
	if _, replacing := c.entries[key]; !replacing && len(c.entries) >= c.maxEntries {
		c.evictLRULocked()
	}
	c.entries[key] = entry
	c.mu.Unlock()

	c.stats.sets.Add(1)
}

// Delete removes a key. Missing keys are a no-op.
func (c *L1) Delete(key string) {
	c.mu.Lock()
	_, existed := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if existed {
		c.stats.deletes.Add(1)
	}
}

// DeletePrefix removes every key sharing the prefix and returns the count.
func (c *L1) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	c.stats.deletes.Add(int64(n))
	return n
}

// DeleteContaining removes every key containing the substring. Used by
// symbol-level invalidation where the symbol sits mid-key.
func (c *L1) DeleteContaining(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			n++
		}
	}
	c.stats.deletes.Add(int64(n))
	return n
}

// Stats returns a stats snapshot.
func (c *L1) Stats() L1Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	hits := c.stats.hits.Load()
	misses := c.stats.misses.Load()
	s := L1Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      c.stats.sets.Load(),
		Deletes:   c.stats.deletes.Load(),
		Evictions: c.stats.evictions.Load(),
		Expired:   c.stats.expired.Load(),
		Entries:   entries,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// Stop shuts down the sweeper. Idempotent.
func (c *L1) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictLRULocked removes the least recently accessed entry. Caller holds the
// write lock.
func (c *L1) evictLRULocked() {
	var oldestKey string
	oldest := int64(1<<63 - 1)
	for key, entry := range c.entries {
		if la := entry.lastAccess.Load(); la < oldest {
			oldest = la
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.evictions.Add(1)
	}
}

func (c *L1) sweep() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *L1) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			c.stats.expired.Add(1)
		}
	}
	c.mu.Unlock()
}
