package window

import (
	"sync"
	"time"
)

// Entry is one recorded event in a key's sliding window.
type Entry struct {
	Timestamp time.Time
	Payload   string
}

type keyWindow struct {
	mu      sync.Mutex
	entries []Entry
	// longest window requested since the last compaction, so compaction
	// never drops entries another caller still needs
	maxWindow time.Duration
	// set under mu when the window is unlinked from the key map; a writer
	// that fetched the window before removal must not append to it
	dead bool
}

// Store keeps per-key sliding-time-window buffers. Reads compact the key
// they touch; a background sweep drops keys whose newest entry is stale.
type Store struct {
	mu      sync.RWMutex
	keys    map[string]*keyWindow
	stop    chan struct{}
	stopped sync.Once
}

const sweepInterval = 30 * time.Second

func NewStore() *Store {
	s := &Store{
		keys: make(map[string]*keyWindow),
		stop: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *Store) get(key string, create bool) *keyWindow {
	s.mu.RLock()
	kw := s.keys[key]
	s.mu.RUnlock()
	if kw != nil || !create {
		return kw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if kw = s.keys[key]; kw != nil {
		return kw
	}
	kw = &keyWindow{}
	s.keys[key] = kw
	return kw
}

// Record appends an entry to the key's window. A window unlinked by the
// sweeper between lookup and lock is abandoned and the lookup retried, so
// the entry always lands in a live window.
func (s *Store) Record(key string, ts time.Time, payload string) {
	for {
		kw := s.get(key, true)
		kw.mu.Lock()
		if kw.dead {
			kw.mu.Unlock()
			continue
		}
		kw.entries = append(kw.entries, Entry{Timestamp: ts, Payload: payload})
		kw.mu.Unlock()
		return
	}
}

// RecentWithin returns the entries with now-ts < window, oldest first, and
// compacts the stored slice as a side effect. Entries older than the longest
// window any caller asked for since the last compaction are dropped, so the
// per-key cost stays proportional to the live window.
func (s *Store) RecentWithin(key string, window time.Duration, now time.Time) []Entry {
	kw := s.get(key, false)
	if kw == nil {
		return nil
	}

	kw.mu.Lock()
	defer kw.mu.Unlock()

	if window > kw.maxWindow {
		kw.maxWindow = window
	}

	// Compact: entries are insertion-ordered, so find the first entry still
	// inside the retention horizon and cut everything before it.
	horizon := now.Add(-kw.maxWindow)
	cut := 0
	for cut < len(kw.entries) && !kw.entries[cut].Timestamp.After(horizon) {
		cut++
	}
	if cut > 0 {
		kw.entries = append(kw.entries[:0], kw.entries[cut:]...)
	}

	threshold := now.Add(-window)
	start := 0
	for start < len(kw.entries) && !kw.entries[start].Timestamp.After(threshold) {
		start++
	}

	if start >= len(kw.entries) {
		return nil
	}
	out := make([]Entry, len(kw.entries)-start)
	copy(out, kw.entries[start:])
	return out
}

// CountWithin returns how many entries fall inside the window.
func (s *Store) CountWithin(key string, window time.Duration, now time.Time) int {
	return len(s.RecentWithin(key, window, now))
}

// Prune drops a key's buffer entirely.
func (s *Store) Prune(key string) {
	s.mu.Lock()
	kw := s.keys[key]
	delete(s.keys, key)
	s.mu.Unlock()

	if kw != nil {
		kw.mu.Lock()
		kw.dead = true
		kw.mu.Unlock()
	}
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

// sweep removes keys whose newest entry is already outside the longest
// window the key has been read with. Each key is locked individually so the
// hot path is never blocked for longer than one key's cleanup.
func (s *Store) sweep(now time.Time) {
	s.mu.RLock()
	candidates := make([]string, 0, len(s.keys))
	for key := range s.keys {
		candidates = append(candidates, key)
	}
	s.mu.RUnlock()

	for _, key := range candidates {
		kw := s.get(key, false)
		if kw == nil {
			continue
		}

		kw.mu.Lock()
		retain := kw.maxWindow
		if retain == 0 {
			retain = sweepInterval
		}
		stale := len(kw.entries) == 0 ||
			now.Sub(kw.entries[len(kw.entries)-1].Timestamp) >= retain
		kw.mu.Unlock()

		if stale {
			s.mu.Lock()
			// Re-check under the write lock: a concurrent Record may have
			// revived the key.
			if cur := s.keys[key]; cur == kw {
				kw.mu.Lock()
				if len(kw.entries) == 0 ||
					now.Sub(kw.entries[len(kw.entries)-1].Timestamp) >= retain {
					kw.dead = true
					delete(s.keys, key)
				}
				kw.mu.Unlock()
			}
			s.mu.Unlock()
		}
	}
}

// Len reports how many keys currently hold buffers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *Store) Close() {
	s.stopped.Do(func() { close(s.stop) })
}
