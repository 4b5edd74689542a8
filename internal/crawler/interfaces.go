package crawler

import (
	"context"
	"time"
)

// DedupStore answers atomic claim-or-reject queries for normalized URLs.
// A claim is never rolled back: a URL that later fails to fetch stays seen.
type DedupStore interface {
	// TryClaim records url as seen for jobID and returns true only on the
	// first claim for that (job, url) pair.
	TryClaim(ctx context.Context, jobID, url string) (bool, error)
	// DropJob forgets all claims for a job once it reaches a terminal state.
	DropJob(ctx context.Context, jobID string) error
}

// RateController enforces per-domain politeness and concurrency limits.
// Admit never blocks; scheduling retries is the caller's responsibility.
type RateController interface {
	// Admit returns true if a dispatch to domain may proceed now. On
	// admission it stamps the dispatch time and increments in-flight.
	Admit(domain string) bool
	// Release records completion of an admitted dispatch and feeds the
	// per-domain circuit breaker.
	Release(domain string, success bool)
}

// Frontier is the depth-aware work queue shared by all workers.
type Frontier interface {
	// RegisterJob makes the frontier accept entries for a job up to
	// maxDepth. Enqueues for unregistered jobs are rejected.
	RegisterJob(jobID string, maxDepth int)
	// Enqueue normalizes url and admits it at parentDepth+1, subject to the
	// job's depth limit and the dedup claim. The returned bool reports
	// whether the URL was admitted.
	Enqueue(ctx context.Context, jobID, url string, parentDepth int) (bool, error)
	// DequeueReady returns the next entry whose domain the rate controller
	// admits, or false when nothing is ready.
	DequeueReady(ctx context.Context) (WorkUnit, bool)
	// Ack transitions an in-flight entry to done and removes it.
	Ack(ctx context.Context, entryID string) error
	// Fail either schedules a retry with backoff or marks the entry dead.
	// The returned bool reports whether the entry is now dead.
	Fail(ctx context.Context, entryID string, retryable bool) (bool, error)
	// DropJob discards all queued and retrying entries for a job.
	DropJob(ctx context.Context, jobID string) error
	// Drained reports whether this process holds no entry for the job
	// that is queued, in flight, or awaiting retry.
	Drained(jobID string) bool
	// Quiesced reports whether no work remains for the job anywhere,
	// including pending journal rows held by other processes.
	Quiesced(ctx context.Context, jobID string) (bool, error)
	// InFlight returns the number of in-flight entries for a job.
	InFlight(jobID string) int
	// Discarded returns how many URLs the depth gate or the dedup claim
	// rejected for a job.
	Discarded(jobID string) int
}

// Fetcher retrieves a single page. Implementations must honor ctx deadlines
// and must not hold frontier state while blocked on the network.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// LinkExtractor pulls outbound same-site links from a fetched page body.
type LinkExtractor interface {
	Extract(baseURL string, body []byte) ([]string, error)
}

// ResultSink persists crawl results. Record must be idempotent: replaying
// the same (job, url) result stores exactly one row.
type ResultSink interface {
	Record(ctx context.Context, result CrawlResult) error
	ListResults(ctx context.Context, jobID string) ([]CrawlResult, error)
}

// Publisher sends fire-and-forget notifications about terminal results.
type Publisher interface {
	Publish(ctx context.Context, result CrawlResult) error
	Close() error
}

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, summary JobSummary) error
	ListJobs(ctx context.Context, status JobStatus) ([]Job, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for jobs and frontier entries.
type IDGenerator interface {
	NewID() (string, error)
}
