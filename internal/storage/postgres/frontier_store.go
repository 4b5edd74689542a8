package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// FrontierStore journals frontier entries so a restarted process can
// recover its queue. It implements frontier.Store.
type FrontierStore struct {
	pool pgxPool
}

// NewFrontierStore wraps an existing pool.
func NewFrontierStore(pool pgxPool) *FrontierStore {
	return &FrontierStore{pool: pool}
}

// SaveEntry inserts a freshly admitted entry. Replaying the same entry id
// is harmless; the first write wins.
func (s *FrontierStore) SaveEntry(ctx context.Context, entry crawler.FrontierEntry) error {
	query := `
		INSERT INTO frontier_entries
			(id, job_id, url, domain, depth, attempt, state, discovered_at, leased_at, ready_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.JobID, entry.URL, entry.Domain, entry.Depth,
		entry.Attempt, entry.State, entry.Discovered, entry.LeasedAt, entry.ReadyAt,
	)
	if err != nil {
		return fmt.Errorf("save frontier entry: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

// UpdateEntry records a state transition (lease, retry schedule).
func (s *FrontierStore) UpdateEntry(ctx context.Context, entry crawler.FrontierEntry) error {
	query := `
		UPDATE frontier_entries
		SET attempt = $2, state = $3, leased_at = $4, ready_at = $5
		WHERE id = $1;
	`
	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.Attempt, entry.State, entry.LeasedAt, entry.ReadyAt,
	)
	if err != nil {
		return fmt.Errorf("update frontier entry: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

// ClaimEntry atomically moves a queued or retrying entry in flight. The
// conditional update is the cross-process dispatch gate: exactly one
// caller sees a row affected.
func (s *FrontierStore) ClaimEntry(ctx context.Context, entryID string, leasedAt time.Time, attempt int) (bool, error) {
	query := `
		UPDATE frontier_entries
		SET state = 'in_flight', leased_at = $2, attempt = $3
		WHERE id = $1 AND state IN ('queued', 'retrying');
	`
	tag, err := s.pool.Exec(ctx, query, entryID, leasedAt, attempt)
	if err != nil {
		return false, fmt.Errorf("claim frontier entry: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteEntry removes a finished entry from the journal.
func (s *FrontierStore) DeleteEntry(ctx context.Context, entryID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM frontier_entries WHERE id = $1;`, entryID); err != nil {
		return fmt.Errorf("delete frontier entry: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

// DropJob removes a job's queued and retrying rows. In-flight rows stay
// until their worker acks or kills them, matching the memory store.
func (s *FrontierStore) DropJob(ctx context.Context, jobID string) error {
	query := `DELETE FROM frontier_entries WHERE job_id = $1 AND state <> 'in_flight';`
	if _, err := s.pool.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("drop frontier job: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

// CountPending returns how many rows for the job are queued, retrying,
// or in flight, regardless of which process holds them.
func (s *FrontierStore) CountPending(ctx context.Context, jobID string) (int, error) {
	query := `
		SELECT count(*) FROM frontier_entries
		WHERE job_id = $1 AND state IN ('queued', 'retrying', 'in_flight');
	`
	var count int
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending entries: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return count, nil
}

// LoadPending returns queued and retrying entries plus in-flight entries
// whose lease predates staleBefore.
func (s *FrontierStore) LoadPending(ctx context.Context, staleBefore time.Time) ([]crawler.FrontierEntry, error) {
	query := `
		SELECT id, job_id, url, domain, depth, attempt, state, discovered_at, leased_at, ready_at
		FROM frontier_entries
		WHERE state IN ('queued', 'retrying')
		   OR (state = 'in_flight' AND leased_at < $1)
		ORDER BY discovered_at;
	`
	rows, err := s.pool.Query(ctx, query, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("load pending entries: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []crawler.FrontierEntry
	for rows.Next() {
		var entry crawler.FrontierEntry
		err := rows.Scan(
			&entry.ID, &entry.JobID, &entry.URL, &entry.Domain, &entry.Depth,
			&entry.Attempt, &entry.State, &entry.Discovered, &entry.LeasedAt, &entry.ReadyAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan frontier entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load pending entries: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return entries, nil
}
