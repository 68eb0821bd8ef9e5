// Package cache implements the in-memory fast path in front of the
// persistent store. It is never authoritative: an evicted or expired entry
// is simply re-read from the store.
package cache

import (
	"container/list"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iudanet/dealsync/internal/clock"
)

// DefaultTTL is used when neither Set nor Options specify a TTL.
const DefaultTTL = 5 * time.Minute

// Options configures a Cache.
type Options struct {
	Clock      clock.Clock
	DefaultTTL time.Duration
	MaxEntries int // 0 - без ограничения
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Cache is a thread-safe TTL cache with optional LRU eviction.
type Cache struct {
	clock      clock.Clock
	items      map[string]*list.Element
	lru        *list.List
	stopC      chan struct{}
	doneC      chan struct{}
	defaultTTL time.Duration
	maxEntries int
	hits       atomic.Uint64
	misses     atomic.Uint64
	mu         sync.RWMutex
	sweepMu    sync.Mutex
}

// entry — элемент кэша
type entry struct {
	expiresAt time.Time
	value     any
	key       string
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}

	return &Cache{
		clock:      opts.Clock,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		defaultTTL: opts.DefaultTTL,
		maxEntries: opts.MaxEntries,
	}
}

// Key builds the canonical cache key tenant/collection/id.
func Key(tenantID, collection, id string) string {
	return tenantID + "/" + collection + "/" + id
}

// Get returns a live value. Expired entries count as misses and are removed.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		c.misses.Add(1)
		return nil, false
	}

	e := elem.Value.(*entry)
	if !c.clock.Now().Before(e.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return nil, false
	}

	c.lru.MoveToFront(elem)
	c.hits.Add(1)
	return e.value, true
}

// Has reports whether a live entry exists without touching hit counters.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, exists := c.items[key]
	if !exists {
		return false
	}
	return c.clock.Now().Before(elem.Value.(*entry).expiresAt)
}

// Set stores value under key. ttl <= 0 selects the default TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expiresAt := c.clock.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.lru.MoveToFront(elem)
		return
	}

	c.items[key] = c.lru.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})

	// Вытесняем самые старые элементы при превышении лимита
	for c.maxEntries > 0 && c.lru.Len() > c.maxEntries {
		c.removeElement(c.lru.Back())
	}
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
}

// Invalidate removes entries whose key matches the glob pattern
// (path.Match syntax, e.g. "t1/deals/*") and returns how many were removed.
// A pattern without wildcards removes the exact key.
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.ContainsAny(pattern, `*?[\`) {
		if elem, exists := c.items[pattern]; exists {
			c.removeElement(elem)
			return 1
		}
		return 0
	}

	removed := 0
	for key, elem := range c.items {
		// Некорректный шаблон ничего не удаляет
		if ok, err := path.Match(pattern, key); err == nil && ok {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// InvalidateTenant removes every entry scoped to tenantID.
func (c *Cache) InvalidateTenant(tenantID string) int {
	prefix := tenantID + "/"

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Clear removes all entries. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru = list.New()
}

// Stats returns hit and miss counters and the number of stored entries.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.items)
	c.mu.RUnlock()

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}

// Sweep removes expired entries and returns their count.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, elem := range c.items {
		if !now.Before(elem.Value.(*entry).expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// StartSweeper periodically removes expired entries until Stop is called.
func (c *Cache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}

	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	if c.stopC != nil {
		return
	}
	c.stopC = make(chan struct{})
	c.doneC = make(chan struct{})

	go c.sweepLoop(interval, c.stopC, c.doneC)
}

// Stop останавливает sweeper goroutine
func (c *Cache) Stop() {
	c.sweepMu.Lock()
	stop, done := c.stopC, c.doneC
	c.stopC, c.doneC = nil, nil
	c.sweepMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Cache) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-stop:
			return
		}
	}
}

// removeElement удаляет элемент; вызывается под c.mu
func (c *Cache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
