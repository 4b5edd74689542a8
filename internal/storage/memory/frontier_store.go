// Package memory provides in-memory persistence implementations for
// development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// FrontierStore keeps the frontier journal in process memory.
type FrontierStore struct {
	mu      sync.Mutex
	entries map[string]crawler.FrontierEntry
}

// NewFrontierStore constructs an empty FrontierStore.
func NewFrontierStore() *FrontierStore {
	return &FrontierStore{entries: make(map[string]crawler.FrontierEntry)}
}

// SaveEntry records a newly admitted entry.
func (s *FrontierStore) SaveEntry(_ context.Context, entry crawler.FrontierEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

// UpdateEntry overwrites the journal row for an entry.
func (s *FrontierStore) UpdateEntry(_ context.Context, entry crawler.FrontierEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

// ClaimEntry atomically moves a queued or retrying entry in flight. It
// fails when the entry is gone or already claimed.
func (s *FrontierStore) ClaimEntry(_ context.Context, entryID string, leasedAt time.Time, attempt int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return false, nil
	}
	if entry.State != crawler.EntryQueued && entry.State != crawler.EntryRetrying {
		return false, nil
	}
	entry.State = crawler.EntryInFlight
	entry.LeasedAt = &leasedAt
	entry.Attempt = attempt
	s.entries[entryID] = entry
	return true, nil
}

// DeleteEntry removes a terminal entry.
func (s *FrontierStore) DeleteEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryID)
	return nil
}

// DropJob removes a job's queued and retrying rows. In-flight rows stay
// until their worker acks or kills them.
func (s *FrontierStore) DropJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if entry.JobID == jobID && entry.State != crawler.EntryInFlight {
			delete(s.entries, id)
		}
	}
	return nil
}

// CountPending returns how many rows for the job are queued, retrying,
// or in flight.
func (s *FrontierStore) CountPending(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.entries {
		if entry.JobID != jobID {
			continue
		}
		switch entry.State {
		case crawler.EntryQueued, crawler.EntryRetrying, crawler.EntryInFlight:
			count++
		}
	}
	return count, nil
}

// LoadPending returns queued and retrying entries, plus in-flight entries
// leased before staleBefore.
func (s *FrontierStore) LoadPending(_ context.Context, staleBefore time.Time) ([]crawler.FrontierEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.FrontierEntry
	for _, entry := range s.entries {
		switch entry.State {
		case crawler.EntryQueued, crawler.EntryRetrying:
			out = append(out, entry)
		case crawler.EntryInFlight:
			if entry.LeasedAt != nil && entry.LeasedAt.Before(staleBefore) {
				out = append(out, entry)
			}
		}
	}
	return out, nil
}
