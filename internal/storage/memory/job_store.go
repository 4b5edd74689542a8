package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// JobStore provides an in-memory job metadata store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return job, nil
}

// UpdateJobStatus updates the status, error text, and summary for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	summary crawler.JobSummary,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Summary = summary
	if status.IsTerminal() && job.Finished == nil {
		now := time.Now().UTC()
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// ListJobs returns jobs filtered by status; an empty status returns all.
func (s *JobStore) ListJobs(_ context.Context, status crawler.JobStatus) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Job
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}
