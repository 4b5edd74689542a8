package dedup

import (
	"context"
	"sync"
)

// MemoryStore is an in-process claim store for development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]map[string]struct{})}
}

// TryClaim records url for jobID, returning true only on the first claim.
func (s *MemoryStore) TryClaim(_ context.Context, jobID, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls, ok := s.seen[jobID]
	if !ok {
		urls = make(map[string]struct{})
		s.seen[jobID] = urls
	}
	if _, claimed := urls[url]; claimed {
		return false, nil
	}
	urls[url] = struct{}{}
	return true, nil
}

// DropJob forgets all claims for a job.
func (s *MemoryStore) DropJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, jobID)
	return nil
}
