package journal

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent records in a bounded in-memory buffer.
// Useful for tests and for deployments that do not need persistence.
type MemoryStore struct {
	mu     sync.RWMutex
	recs   []Record
	retain int
	nextID int64
}

// NewMemoryStore creates a memory store that keeps at most retain records.
func NewMemoryStore(retain int) *MemoryStore {
	if retain <= 0 {
		retain = 1000
	}
	return &MemoryStore{retain: retain, nextID: 1}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	s.recs = append(s.recs, rec)
	if len(s.recs) > s.retain {
		s.recs = s.recs[len(s.recs)-s.retain:]
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.recs) {
		limit = len(s.recs)
	}
	out := make([]Record, 0, limit)
	for i := len(s.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recs[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
