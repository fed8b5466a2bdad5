package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps window records in a process-local map. Suitable for
// single-process deployments and tests; state does not survive restarts.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[int64]Window
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[int64]Window)}
}

// CheckAndConsume implements Store.
func (s *MemoryStore) CheckAndConsume(_ context.Context, key int64, now time.Time, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.After(w.ResetAt) {
		s.windows[key] = Window{Count: 1, ResetAt: now.Add(window)}
		return true, nil
	}
	if w.Count < limit {
		w.Count++
		s.windows[key] = w
		return true, nil
	}
	return false, nil
}

// Peek implements Store.
func (s *MemoryStore) Peek(_ context.Context, key int64) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	return w, ok, nil
}
