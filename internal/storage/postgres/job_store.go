package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// JobStore persists job metadata. It implements crawler.JobStore.
type JobStore struct {
	pool pgxPool
}

// NewJobStore wraps an existing pool.
func NewJobStore(pool pgxPool) *JobStore {
	return &JobStore{pool: pool}
}

// CreateJob inserts a newly submitted job.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	seedsJSON, err := json.Marshal(job.Seeds)
	if err != nil {
		return fmt.Errorf("marshal seeds: %w", err)
	}
	summaryJSON, err := json.Marshal(job.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	query := `
		INSERT INTO jobs (id, seeds, max_depth, status, submitted_at, finished_at, error_text, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID, seedsJSON, job.MaxDepth, job.Status,
		job.Submitted, job.Finished, job.ErrorText, summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := `
		SELECT id, seeds, max_depth, status, submitted_at, finished_at, error_text, summary
		FROM jobs
		WHERE id = $1;
	`
	var job crawler.Job
	var seedsJSON, summaryJSON []byte
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &seedsJSON, &job.MaxDepth, &job.Status,
		&job.Submitted, &job.Finished, &job.ErrorText, &summaryJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
		}
		return crawler.Job{}, fmt.Errorf("get job: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(seedsJSON, &job.Seeds); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal seeds: %w", err)
	}
	if err := json.Unmarshal(summaryJSON, &job.Summary); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal summary: %w", err)
	}
	return job, nil
}

// UpdateJobStatus transitions a job and records its summary. A terminal
// status stamps finished_at once; a finished timestamp is never rewound.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	summary crawler.JobSummary,
) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	query := `
		UPDATE jobs
		SET status = $2,
		    error_text = $3,
		    summary = $4,
		    finished_at = CASE WHEN $5 THEN COALESCE(finished_at, now()) ELSE finished_at END
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, jobID, status, errText, summaryJSON, status.IsTerminal())
	if err != nil {
		return fmt.Errorf("update job status: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *JobStore) ListJobs(ctx context.Context, status crawler.JobStatus) ([]crawler.Job, error) {
	query := `
		SELECT id, seeds, max_depth, status, submitted_at, finished_at, error_text, summary
		FROM jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY submitted_at DESC;
	`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var jobs []crawler.Job
	for rows.Next() {
		var job crawler.Job
		var seedsJSON, summaryJSON []byte
		err := rows.Scan(
			&job.ID, &seedsJSON, &job.MaxDepth, &job.Status,
			&job.Submitted, &job.Finished, &job.ErrorText, &summaryJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		if err := json.Unmarshal(seedsJSON, &job.Seeds); err != nil {
			return nil, fmt.Errorf("unmarshal seeds: %w", err)
		}
		if err := json.Unmarshal(summaryJSON, &job.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return jobs, nil
}
