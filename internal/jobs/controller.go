// Package jobs implements the crawl job lifecycle: submission, cancel,
// failure on infrastructure faults, and completion detection.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/metrics"
)

// ErrNoValidSeeds is returned when a submission carries no parseable URL.
var ErrNoValidSeeds = errors.New("no valid seed urls")

// Config controls job defaults and the completion poll.
type Config struct {
	// DefaultMaxDepth applies when a submission does not set a depth.
	DefaultMaxDepth int
	// MaxDepthCap bounds any requested depth.
	MaxDepthCap int
	// PollInterval is how often the completion loop checks running jobs.
	PollInterval time.Duration
}

// Controller owns job state transitions. UpdateJobStatus is only called
// from here and from nowhere else, so terminal states are never overwritten.
type Controller struct {
	store    crawler.JobStore
	sink     crawler.ResultSink
	frontier crawler.Frontier
	dedup    crawler.DedupStore
	clock    crawler.Clock
	idGen    crawler.IDGenerator
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	running map[string]crawler.Job
}

// New constructs a Controller.
func New(
	store crawler.JobStore,
	sink crawler.ResultSink,
	frontier crawler.Frontier,
	dedup crawler.DedupStore,
	clock crawler.Clock,
	idGen crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxDepth <= 0 {
		cfg.DefaultMaxDepth = 3
	}
	if cfg.MaxDepthCap <= 0 {
		cfg.MaxDepthCap = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Controller{
		store:    store,
		sink:     sink,
		frontier: frontier,
		dedup:    dedup,
		clock:    clock,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
		running:  make(map[string]crawler.Job),
	}
}

// StartJob validates seeds, persists the job, and admits the seeds into
// the frontier at depth zero. Seeds that collapse to the same normalized
// URL are admitted once.
func (c *Controller) StartJob(ctx context.Context, seeds []string, maxDepth int) (crawler.Job, error) {
	valid := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if _, err := crawler.NormalizeURL(seed); err != nil {
			c.logger.Warn("seed rejected", zap.String("url", seed), zap.Error(err))
			continue
		}
		valid = append(valid, seed)
	}
	if len(valid) == 0 {
		return crawler.Job{}, ErrNoValidSeeds
	}

	if maxDepth <= 0 {
		maxDepth = c.cfg.DefaultMaxDepth
	}
	if maxDepth > c.cfg.MaxDepthCap {
		maxDepth = c.cfg.MaxDepthCap
	}

	id, err := c.idGen.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("job id: %w", err)
	}
	// The job is created pending and flipped to running only after the
	// last seed lands in the journal. Completion polling and peer-process
	// adoption consider running jobs only, so a job that is still seeding
	// can never be observed with an empty frontier and marked complete.
	job := crawler.Job{
		ID:        id,
		Seeds:     valid,
		MaxDepth:  maxDepth,
		Status:    crawler.JobStatusPending,
		Submitted: c.clock.Now(),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}

	c.frontier.RegisterJob(id, maxDepth)

	for _, seed := range valid {
		if _, err := c.frontier.Enqueue(ctx, id, seed, -1); err != nil {
			if errors.Is(err, crawler.ErrStoreUnavailable) {
				_ = c.FailJob(ctx, id, fmt.Sprintf("seed admission: %v", err))
				return crawler.Job{}, fmt.Errorf("admit seed %q: %w", seed, err)
			}
			c.logger.Warn("seed admission rejected",
				zap.String("job_id", id), zap.String("url", seed), zap.Error(err))
		}
	}

	if err := c.store.UpdateJobStatus(ctx, id, crawler.JobStatusRunning, "", crawler.JobSummary{}); err != nil {
		return crawler.Job{}, fmt.Errorf("mark job running: %w", err)
	}
	job.Status = crawler.JobStatusRunning
	c.track(job)

	metrics.ObserveJob("started")
	c.logger.Info("job started",
		zap.String("job_id", id),
		zap.Int("seeds", len(valid)),
		zap.Int("max_depth", maxDepth),
	)
	return job, nil
}

// GetJob returns a job's persisted state.
func (c *Controller) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs, optionally filtered by status.
func (c *Controller) ListJobs(ctx context.Context, status crawler.JobStatus) ([]crawler.Job, error) {
	return c.store.ListJobs(ctx, status)
}

// ListResults returns a job's recorded results.
func (c *Controller) ListResults(ctx context.Context, jobID string) ([]crawler.CrawlResult, error) {
	if _, err := c.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return c.sink.ListResults(ctx, jobID)
}

// CancelJob moves a running job to cancelled and discards its pending
// frontier entries. In-flight fetches finish; their results are dropped
// because the job is no longer running.
func (c *Controller) CancelJob(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("cancel job %s in state %s: %w", jobID, job.Status, crawler.ErrJobNotRunning)
	}

	summary := c.summarize(ctx, job)
	if err := c.store.UpdateJobStatus(ctx, jobID, crawler.JobStatusCancelled, "", summary); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	c.untrack(jobID)
	c.dropWork(ctx, jobID)
	metrics.ObserveJob(string(crawler.JobStatusCancelled))
	c.logger.Info("job cancelled", zap.String("job_id", jobID))
	return nil
}

// FailJob moves a job to failed after an infrastructure fault. Calling it
// on an already terminal job is a no-op.
func (c *Controller) FailJob(ctx context.Context, jobID, reason string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	summary := c.summarize(ctx, job)
	if err := c.store.UpdateJobStatus(ctx, jobID, crawler.JobStatusFailed, reason, summary); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	c.untrack(jobID)
	c.dropWork(ctx, jobID)
	metrics.ObserveJob(string(crawler.JobStatusFailed))
	c.logger.Error("job failed", zap.String("job_id", jobID), zap.String("reason", reason))
	return nil
}

// Resume registers running jobs this process does not track yet with the
// frontier. It runs at startup and again on every poll tick, so a worker
// process sees jobs submitted through another process's API.
func (c *Controller) Resume(ctx context.Context) (int, error) {
	jobs, err := c.store.ListJobs(ctx, crawler.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}
	resumed := 0
	for _, job := range jobs {
		c.mu.Lock()
		_, tracked := c.running[job.ID]
		c.mu.Unlock()
		if tracked {
			continue
		}
		c.frontier.RegisterJob(job.ID, job.MaxDepth)
		c.track(job)
		resumed++
	}
	return resumed, nil
}

// Run drives job adoption and completion detection until the context
// finishes. A job is complete when no work for it remains in the shared
// journal, not merely in this process.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Resume(ctx); err != nil {
				c.logger.Warn("resume poll", zap.Error(err))
			}
			c.checkCompletions(ctx)
		}
	}
}

func (c *Controller) checkCompletions(ctx context.Context) {
	c.mu.Lock()
	candidates := make([]crawler.Job, 0, len(c.running))
	for _, job := range c.running {
		candidates = append(candidates, job)
	}
	c.mu.Unlock()

	for _, job := range candidates {
		quiet, err := c.frontier.Quiesced(ctx, job.ID)
		if err != nil {
			c.logger.Warn("completion check", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if !quiet {
			continue
		}
		c.complete(ctx, job)
	}
}

func (c *Controller) complete(ctx context.Context, job crawler.Job) {
	summary := c.summarize(ctx, job)
	if err := c.store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusCompleted, "", summary); err != nil {
		c.logger.Error("complete job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	c.untrack(job.ID)
	c.dropWork(ctx, job.ID)
	metrics.ObserveJob(string(crawler.JobStatusCompleted))
	c.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("fetched", summary.URLsFetched),
		zap.Int("failed", summary.URLsFailed),
		zap.Int("discarded", summary.URLsDiscarded),
	)
}

// summarize aggregates per-URL outcomes. Read the discarded counter
// before dropWork clears it.
func (c *Controller) summarize(ctx context.Context, job crawler.Job) crawler.JobSummary {
	summary := crawler.JobSummary{
		URLsDiscarded: c.frontier.Discarded(job.ID),
		DurationMs:    c.clock.Now().Sub(job.Submitted).Milliseconds(),
	}
	results, err := c.sink.ListResults(ctx, job.ID)
	if err != nil {
		c.logger.Warn("summarize results", zap.String("job_id", job.ID), zap.Error(err))
		return summary
	}
	for _, r := range results {
		if r.Status == crawler.ResultSuccess {
			summary.URLsFetched++
		} else {
			summary.URLsFailed++
		}
	}
	return summary
}

// dropWork discards pending frontier entries and dedup claims for a job
// that reached a terminal state.
func (c *Controller) dropWork(ctx context.Context, jobID string) {
	if err := c.frontier.DropJob(ctx, jobID); err != nil {
		c.logger.Warn("drop frontier entries", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := c.dedup.DropJob(ctx, jobID); err != nil {
		c.logger.Warn("drop dedup claims", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (c *Controller) track(job crawler.Job) {
	c.mu.Lock()
	c.running[job.ID] = job
	c.mu.Unlock()
}

func (c *Controller) untrack(jobID string) {
	c.mu.Lock()
	delete(c.running, jobID)
	c.mu.Unlock()
}
