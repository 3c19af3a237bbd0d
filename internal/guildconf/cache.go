package guildconf

import (
	"fmt"
	"sync"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/logging"
)

// Backing is the persistence behind the cache. Load returns (nil, nil) when
// the guild has no stored config yet.
type Backing interface {
	LoadGuildConfig(guildID string) (*Config, error)
	SaveGuildConfig(cfg *Config) error
}

type cacheEntry struct {
	cfg      *Config
	loadedAt time.Time
}

// Cache is a read-through, TTL-bounded view over the config store. Writes
// go to the store first, then invalidate. A guild with no stored config gets
// defaults created and persisted synchronously on first access.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	backing Backing
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

const DefaultTTL = 5 * time.Minute

func NewCache(backing Backing, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		backing: backing,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Get returns the guild's config, reading through to the store on a miss or
// an expired entry. Detection never blocks on a broken store: if the store
// errors, last-known or default config is returned.
func (c *Cache) Get(guildID string) *Config {
	c.mu.RLock()
	entry := c.entries[guildID]
	c.mu.RUnlock()

	if entry != nil && time.Since(entry.loadedAt) < c.ttl {
		return entry.cfg
	}

	cfg, err := c.backing.LoadGuildConfig(guildID)
	if err != nil {
		logging.Warn("Guild config load failed for %s: %v", guildID, err)
		if entry != nil {
			return entry.cfg
		}
		return Defaults(guildID)
	}

	if cfg == nil {
		cfg = Defaults(guildID)
		if err := c.backing.SaveGuildConfig(cfg); err != nil {
			logging.Warn("Failed to persist default config for guild %s: %v", guildID, err)
		}
	}

	c.mu.Lock()
	c.entries[guildID] = &cacheEntry{cfg: cfg, loadedAt: time.Now()}
	c.mu.Unlock()

	return cfg
}

// Update applies fn to a copy of the guild's config, persists it, then
// invalidates the cached entry so the next read observes the new state.
func (c *Cache) Update(guildID string, fn func(cfg *Config)) error {
	cfg := c.Get(guildID).clone()
	fn(cfg)

	if err := c.backing.SaveGuildConfig(cfg); err != nil {
		return fmt.Errorf("save guild config: %w", err)
	}

	c.mu.Lock()
	delete(c.entries, guildID)
	c.mu.Unlock()
	return nil
}

// Invalidate drops a cached entry, forcing the next Get to hit the store.
func (c *Cache) Invalidate(guildID string) {
	c.mu.Lock()
	delete(c.entries, guildID)
	c.mu.Unlock()
}

func (c *Cache) evictLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, entry := range c.entries {
				if now.Sub(entry.loadedAt) >= c.ttl {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}
