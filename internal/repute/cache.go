package repute

import (
	"sync"
	"time"
)

// verdict is one cached lookup result. Malicious is nil when every source
// was inconclusive; Score carries the NSFW classifier result.
type verdict struct {
	malicious *bool
	score     float64
	storedAt  time.Time
}

// Cache holds per-URL lookup results with TTL invalidation so repeated
// postings of one link do not trigger redundant external calls.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]verdict
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

const DefaultCacheTTL = time.Hour

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		entries: make(map[string]verdict),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

func (c *Cache) get(url string) (verdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[url]
	if !ok || time.Since(v.storedAt) >= c.ttl {
		return verdict{}, false
	}
	return v, true
}

func (c *Cache) put(url string, v verdict) {
	v.storedAt = time.Now()
	c.mu.Lock()
	c.entries[url] = v
	c.mu.Unlock()
}

func (c *Cache) evictLoop() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for url, v := range c.entries {
				if now.Sub(v.storedAt) >= c.ttl {
					delete(c.entries, url)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}
