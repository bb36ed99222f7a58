package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in a process-local map. Limits enforced through
// it are per instance only.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.After(w.ResetAt) {
		w = Window{Count: 1, ResetAt: now.Add(window)}
	} else {
		w.Count++
	}
	s.windows[key] = w
	return w, nil
}

// Sweep drops windows that have expired at now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, w := range s.windows {
		if now.After(w.ResetAt) {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
