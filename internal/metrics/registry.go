package metrics

import (
	"sync"
	"time"
)

// Registry counts detections and sanction executions in memory. The
// persistent per-guild counters live in the store; these exist for the
// status surface and tests.
type Registry struct {
	mu        sync.RWMutex
	counts    map[string]uint64
	startedAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counts:    make(map[string]uint64),
		startedAt: time.Now(),
	}
}

func (r *Registry) Inc(name string) {
	r.mu.Lock()
	r.counts[name]++
	r.mu.Unlock()
}

func (r *Registry) IncGuild(guildID, name string) {
	r.Inc(guildID + ":" + name)
}

func (r *Registry) Get(name string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[name]
}

func (r *Registry) GetGuild(guildID, name string) uint64 {
	return r.Get(guildID + ":" + name)
}

// Snapshot copies every counter.
func (r *Registry) Snapshot() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startedAt)
}

var globalRegistry *Registry
var globalOnce sync.Once

func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}
