// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	// JobStatusPending covers the admission window between job creation
	// and the last seed landing in the frontier journal.
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether a job in this status will never change again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID        string     `json:"id"`
	Seeds     []string   `json:"seeds"`
	MaxDepth  int        `json:"max_depth"`
	Status    JobStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Summary   JobSummary `json:"summary"`
}

// JobSummary aggregates per-job crawl outcomes.
type JobSummary struct {
	URLsFetched   int   `json:"urls_fetched"`
	URLsFailed    int   `json:"urls_failed"`
	URLsDiscarded int   `json:"urls_discarded"`
	DurationMs    int64 `json:"duration_ms"`
}

// EntryState is the scheduling state of a frontier entry.
type EntryState string

// Frontier entry states. An entry is in exactly one state at a time.
const (
	EntryQueued   EntryState = "queued"
	EntryInFlight EntryState = "in_flight"
	EntryRetrying EntryState = "retrying"
	EntryDone     EntryState = "done"
	EntryDead     EntryState = "dead"
)

// FrontierEntry is a unit of pending fetch work owned by the frontier.
type FrontierEntry struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	URL        string     `json:"url"`
	Domain     string     `json:"domain"`
	Depth      int        `json:"depth"`
	Attempt    int        `json:"attempt"`
	State      EntryState `json:"state"`
	Discovered time.Time  `json:"discovered_at"`
	LeasedAt   *time.Time `json:"leased_at,omitempty"`
	ReadyAt    time.Time  `json:"ready_at"`
}

// WorkUnit is what a worker receives from a frontier dequeue.
type WorkUnit struct {
	EntryID string `json:"entry_id"`
	JobID   string `json:"job_id"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Depth   int    `json:"depth"`
	Attempt int    `json:"attempt"`
}

// ResultStatus marks whether a fetch ultimately succeeded.
type ResultStatus string

// Terminal per-URL outcomes.
const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// CrawlResult is produced by a worker when a fetch reaches a terminal state.
type CrawlResult struct {
	JobID      string       `json:"job_id"`
	URL        string       `json:"url"`
	Domain     string       `json:"domain"`
	Depth      int          `json:"depth"`
	Status     ResultStatus `json:"status"`
	HTTPStatus int          `json:"http_status,omitempty"`
	ErrorClass ErrorClass   `json:"error_class,omitempty"`
	Links      []string     `json:"links,omitempty"`
	FetchedAt  time.Time    `json:"fetched_at"`
	DurationMs int64        `json:"duration_ms"`
	BlobURI    string       `json:"blob_uri,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID string
	URL   string
	Depth int
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
