package ratelimit

import (
	"context"
	"sync"
)

// MemoryStore keeps buckets in process memory
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*Bucket)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, nowS, end uint64, max uint32) (HitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || nowS >= b.End {
		s.buckets[key] = &Bucket{Count: 1, End: end}
		return HitResult{Allowed: true, Count: 1, End: end}, nil
	}
	if b.Count >= max {
		return HitResult{Allowed: false, Count: b.Count, End: b.End}, nil
	}
	b.Count++
	return HitResult{Allowed: true, Count: b.Count, End: b.End}, nil
}

func (s *MemoryStore) Sweep(_ context.Context, nowS uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		if nowS >= b.End {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[string]*Bucket)
	return nil
}

// Len returns the number of stored buckets
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
