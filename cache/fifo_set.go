package cache

import (
	"container/list"
	"sync"
)

// FIFOSet is a bounded membership set with first-in-first-out eviction.
// Used for transaction-hash deduplication: at-most-once per key.
type FIFOSet struct {
	mu sync.Mutex

	capacity int
	keys     map[string]struct{}
	order    *list.List
}

// NewFIFOSet creates a set bounded to capacity entries.
func NewFIFOSet(capacity int) *FIFOSet {
	return &FIFOSet{
		capacity: capacity,
		keys:     make(map[string]struct{}, capacity),
		order:    list.New(),
	}
}

// Seen marks the key as processed and reports whether it was already present.
// The check-and-insert is atomic.
func (s *FIFOSet) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return true
	}

	s.keys[key] = struct{}{}
	s.order.PushBack(key)

	if s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.keys, oldest.Value.(string))
	}
	return false
}

// Contains reports membership without inserting.
func (s *FIFOSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the current member count.
func (s *FIFOSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
