package memory

import (
	"context"
	"sync"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// ResultStore keeps crawl results in memory, keyed by (job, url) so that
// replays overwrite rather than duplicate.
type ResultStore struct {
	mu      sync.Mutex
	results map[string]map[string]crawler.CrawlResult
	order   map[string][]string
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]map[string]crawler.CrawlResult),
		order:   make(map[string][]string),
	}
}

// Record upserts a result. Replaying the same (job, url) stores one row.
func (s *ResultStore) Record(_ context.Context, result crawler.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byURL, ok := s.results[result.JobID]
	if !ok {
		byURL = make(map[string]crawler.CrawlResult)
		s.results[result.JobID] = byURL
	}
	if _, exists := byURL[result.URL]; !exists {
		s.order[result.JobID] = append(s.order[result.JobID], result.URL)
	}
	byURL[result.URL] = result
	return nil
}

// ListResults returns all results for a job in first-recorded order.
func (s *ResultStore) ListResults(_ context.Context, jobID string) ([]crawler.CrawlResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := s.order[jobID]
	out := make([]crawler.CrawlResult, 0, len(urls))
	for _, u := range urls {
		out = append(out, s.results[jobID][u])
	}
	return out, nil
}
