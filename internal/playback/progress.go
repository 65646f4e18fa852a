package playback

import (
	"sync"
	"time"
)

// ProgressStore remembers the last playback offset per video identity so
// a rebuilt resource resumes where the evicted one left off. Writes are
// fire-and-forget on a coalesced cadence; per-key atomicity is all that
// is required.
type ProgressStore interface {
	Record(identity string, offset time.Duration)
	LastOffset(identity string) (time.Duration, bool)
}

// MemoryProgressStore is the process-lifetime implementation. Durable,
// cross-restart progress lives elsewhere (see progressdb).
type MemoryProgressStore struct {
	mu sync.RWMutex
	m  map[string]time.Duration
}

func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{m: make(map[string]time.Duration)}
}

func (s *MemoryProgressStore) Record(identity string, offset time.Duration) {
	if identity == "" {
		return
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	s.m[identity] = offset
	s.mu.Unlock()
}

func (s *MemoryProgressStore) LastOffset(identity string) (time.Duration, bool) {
	s.mu.RLock()
	off, ok := s.m[identity]
	s.mu.RUnlock()
	return off, ok
}
