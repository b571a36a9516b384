package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps windows in process. It is the default for a single till.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Take implements WindowStore.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, length time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		s.windows[key] = w
		s.pruneLocked(now)
	}
	if w.count >= limit {
		return Decision{Allowed: false, Count: w.count, ResetAt: w.resetAt}, nil
	}
	w.count++
	return Decision{Allowed: true, Count: w.count, ResetAt: w.resetAt}, nil
}

// pruneLocked drops expired windows once the map grows.
func (s *MemoryStore) pruneLocked(now time.Time) {
	if len(s.windows) < 256 {
		return
	}
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
		}
	}
}
