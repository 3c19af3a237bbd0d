package sched

import (
	"sync"
	"time"
)

// Scheduler runs deferred one-shot tasks that re-validate their triggering
// condition at fire time. The ecosystem delivers many async completions;
// a stale trigger must be a no-op, so cancellation is check-and-noop rather
// than forced termination.
type Scheduler struct {
	mu     sync.Mutex
	timers map[uint64]*time.Timer
	nextID uint64
	closed bool
}

func New() *Scheduler {
	return &Scheduler{timers: make(map[uint64]*time.Timer)}
}

// After schedules fire to run once delay has elapsed, but only if check
// still returns true at fire time. The returned function cancels the task;
// cancelling an already-fired task is a no-op.
func (s *Scheduler) After(delay time.Duration, check func() bool, fire func()) (cancel func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.nextID++
	id := s.nextID

	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()

		if !live {
			return
		}
		if check != nil && !check() {
			return
		}
		fire()
	})

	s.timers[id] = timer
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		timer, ok := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if ok {
			timer.Stop()
		}
	}
}

// Pending reports how many tasks have not yet fired or been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels every pending task.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
