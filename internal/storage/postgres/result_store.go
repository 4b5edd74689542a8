package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// ResultStore persists per-URL crawl outcomes. It implements
// crawler.ResultSink; Record is idempotent on (job_id, url).
type ResultStore struct {
	pool pgxPool
}

// NewResultStore wraps an existing pool.
func NewResultStore(pool pgxPool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Record stores a terminal result. A replay of the same (job, url) pair
// keeps the first row.
func (s *ResultStore) Record(ctx context.Context, result crawler.CrawlResult) error {
	linksJSON, err := json.Marshal(normalizeLinks(result.Links))
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	query := `
		INSERT INTO crawl_results
			(job_id, url, domain, depth, status, http_status, error_class, links, fetched_at, duration_ms, blob_uri)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id, url) DO NOTHING;
	`
	_, err = s.pool.Exec(ctx, query,
		result.JobID, result.URL, result.Domain, result.Depth, result.Status,
		result.HTTPStatus, result.ErrorClass, linksJSON, result.FetchedAt,
		result.DurationMs, result.BlobURI,
	)
	if err != nil {
		return fmt.Errorf("insert crawl result: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

// ListResults returns a job's results in fetch order.
func (s *ResultStore) ListResults(ctx context.Context, jobID string) ([]crawler.CrawlResult, error) {
	query := `
		SELECT job_id, url, domain, depth, status, http_status, error_class, links, fetched_at, duration_ms, blob_uri
		FROM crawl_results
		WHERE job_id = $1
		ORDER BY fetched_at;
	`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list crawl results: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var results []crawler.CrawlResult
	for rows.Next() {
		var result crawler.CrawlResult
		var linksJSON []byte
		err := rows.Scan(
			&result.JobID, &result.URL, &result.Domain, &result.Depth, &result.Status,
			&result.HTTPStatus, &result.ErrorClass, &linksJSON, &result.FetchedAt,
			&result.DurationMs, &result.BlobURI,
		)
		if err != nil {
			return nil, fmt.Errorf("scan crawl result: %w", err)
		}
		if err := json.Unmarshal(linksJSON, &result.Links); err != nil {
			return nil, fmt.Errorf("unmarshal links: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list crawl results: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return results, nil
}

func normalizeLinks(links []string) []string {
	if links == nil {
		return []string{}
	}
	return links
}
