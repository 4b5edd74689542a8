// Package worker implements the crawl pipeline execution loop: dequeue a
// work unit, fetch the page, extract links back into the frontier, and
// record the terminal result.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/metrics"
	"github.com/marketmap/shopcrawler/internal/storage"
)

// JobFailer moves a job to the failed state after an infrastructure fault.
type JobFailer interface {
	FailJob(ctx context.Context, jobID, reason string) error
}

// Config controls Worker behavior.
type Config struct {
	// FetchTimeout bounds a single page fetch.
	FetchTimeout time.Duration
	// PollInterval is how long the loop sleeps when nothing is ready.
	PollInterval time.Duration
	ContentType  string
}

// Worker pulls ready entries from the frontier and executes the fetch
// pipeline. Several workers share one frontier; the frontier guarantees
// each entry is handed to exactly one of them.
type Worker struct {
	frontier  crawler.Frontier
	fetcher   crawler.Fetcher
	extractor crawler.LinkExtractor
	sink      crawler.ResultSink
	publisher crawler.Publisher
	blobs     storage.BlobStore
	jobs      crawler.JobStore
	failer    JobFailer
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	frontier crawler.Frontier,
	fetcher crawler.Fetcher,
	extractor crawler.LinkExtractor,
	sink crawler.ResultSink,
	publisher crawler.Publisher,
	blobs storage.BlobStore,
	jobs crawler.JobStore,
	failer JobFailer,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{
		frontier:  frontier,
		fetcher:   fetcher,
		extractor: extractor,
		sink:      sink,
		publisher: publisher,
		blobs:     blobs,
		jobs:      jobs,
		failer:    failer,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, processing entries until the context finishes. When the
// frontier has nothing ready it sleeps one poll interval so denied
// domains are retried without spinning.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if worked := w.ProcessOne(ctx); worked {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// ProcessOne executes one work unit end to end. It returns false when
// nothing was ready to dispatch.
func (w *Worker) ProcessOne(ctx context.Context) bool {
	unit, ok := w.frontier.DequeueReady(ctx)
	if !ok {
		return false
	}
	w.process(ctx, unit)
	return true
}

func (w *Worker) process(ctx context.Context, unit crawler.WorkUnit) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	resp, err := w.fetcher.Fetch(fetchCtx, crawler.FetchRequest{
		JobID: unit.JobID,
		URL:   unit.URL,
		Depth: unit.Depth,
	})
	cancel()

	class, retryable := crawler.ClassifyFetch(resp.StatusCode, err)
	metrics.ObserveFetch(unit.Domain, resp.StatusCode, resp.Duration)

	if class == "" {
		w.handleSuccess(ctx, unit, resp)
		return
	}
	w.handleFailure(ctx, unit, resp, class, retryable, err)
}

func (w *Worker) handleSuccess(ctx context.Context, unit crawler.WorkUnit, resp crawler.FetchResponse) {
	blobURI := w.snapshot(ctx, unit, resp.Body)
	links := w.extractLinks(unit, resp)
	w.enqueueLinks(ctx, unit, links)

	result := crawler.CrawlResult{
		JobID:      unit.JobID,
		URL:        unit.URL,
		Domain:     unit.Domain,
		Depth:      unit.Depth,
		Status:     crawler.ResultSuccess,
		HTTPStatus: resp.StatusCode,
		Links:      links,
		FetchedAt:  w.clock.Now(),
		DurationMs: resp.Duration.Milliseconds(),
		BlobURI:    blobURI,
	}
	w.record(ctx, unit, result)

	if err := w.frontier.Ack(ctx, unit.EntryID); err != nil {
		w.logger.Warn("ack failed",
			zap.String("entry_id", unit.EntryID), zap.Error(err))
	}
	metrics.ObserveLinks(len(links))
	w.logger.Debug("page processed",
		zap.String("job_id", unit.JobID),
		zap.String("url", unit.URL),
		zap.Int("links", len(links)),
	)
}

func (w *Worker) handleFailure(
	ctx context.Context,
	unit crawler.WorkUnit,
	resp crawler.FetchResponse,
	class crawler.ErrorClass,
	retryable bool,
	fetchErr error,
) {
	dead, err := w.frontier.Fail(ctx, unit.EntryID, retryable)
	if err != nil {
		w.logger.Warn("fail transition rejected",
			zap.String("entry_id", unit.EntryID), zap.Error(err))
		return
	}
	if !dead {
		w.logger.Debug("fetch scheduled for retry",
			zap.String("job_id", unit.JobID),
			zap.String("url", unit.URL),
			zap.Int("attempt", unit.Attempt),
			zap.String("error_class", string(class)),
		)
		return
	}

	result := crawler.CrawlResult{
		JobID:      unit.JobID,
		URL:        unit.URL,
		Domain:     unit.Domain,
		Depth:      unit.Depth,
		Status:     crawler.ResultFailure,
		HTTPStatus: resp.StatusCode,
		ErrorClass: class,
		FetchedAt:  w.clock.Now(),
		DurationMs: resp.Duration.Milliseconds(),
	}
	w.record(ctx, unit, result)
	w.logger.Info("url exhausted",
		zap.String("job_id", unit.JobID),
		zap.String("url", unit.URL),
		zap.String("error_class", string(class)),
		zap.Error(fetchErr),
	)
}

// extractLinks parses the body for outbound links. Redirect and empty
// bodies are skipped; the frontier's depth gate filters the children.
func (w *Worker) extractLinks(unit crawler.WorkUnit, resp crawler.FetchResponse) []string {
	if resp.StatusCode >= http.StatusMultipleChoices || len(resp.Body) == 0 {
		return nil
	}
	links, err := w.extractor.Extract(unit.URL, resp.Body)
	if err != nil {
		w.logger.Warn("link extraction failed",
			zap.String("url", unit.URL), zap.Error(err))
		return nil
	}
	return links
}

func (w *Worker) enqueueLinks(ctx context.Context, unit crawler.WorkUnit, links []string) {
	for _, link := range links {
		_, err := w.frontier.Enqueue(ctx, unit.JobID, link, unit.Depth)
		switch {
		case err == nil:
		case errors.Is(err, crawler.ErrJobNotRunning):
			// Job was cancelled while this fetch was in flight.
			return
		case errors.Is(err, crawler.ErrStoreUnavailable):
			w.infraFault(ctx, unit.JobID, fmt.Errorf("enqueue %q: %w", link, err))
			return
		default:
			w.logger.Warn("enqueue rejected",
				zap.String("url", link), zap.Error(err))
		}
	}
}

// record persists a terminal result and notifies downstream consumers.
// Results for jobs that already reached a terminal state are discarded;
// a job still pending admission keeps its results.
func (w *Worker) record(ctx context.Context, unit crawler.WorkUnit, result crawler.CrawlResult) {
	job, err := w.jobs.GetJob(ctx, unit.JobID)
	if err == nil && job.Status.IsTerminal() {
		w.logger.Debug("result discarded for finished job",
			zap.String("job_id", unit.JobID), zap.String("url", unit.URL))
		return
	}
	if err != nil {
		w.logger.Warn("job lookup failed",
			zap.String("job_id", unit.JobID), zap.Error(err))
	}

	if err := w.sink.Record(ctx, result); err != nil {
		if errors.Is(err, crawler.ErrStoreUnavailable) {
			w.infraFault(ctx, unit.JobID, fmt.Errorf("record result: %w", err))
			return
		}
		w.logger.Error("record result failed",
			zap.String("job_id", unit.JobID), zap.String("url", unit.URL), zap.Error(err))
		return
	}

	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, result); err != nil {
			// Notifications are fire and forget; the result is already
			// persisted.
			w.logger.Warn("publish result failed",
				zap.String("job_id", unit.JobID), zap.Error(err))
		}
	}
}

func (w *Worker) snapshot(ctx context.Context, unit crawler.WorkUnit, body []byte) string {
	if w.blobs == nil || len(body) == 0 {
		return ""
	}
	path := fmt.Sprintf("%s/%s.html", unit.JobID, unit.EntryID)
	uri, err := w.blobs.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("snapshot write failed",
			zap.String("url", unit.URL), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) infraFault(ctx context.Context, jobID string, cause error) {
	w.logger.Error("infrastructure fault", zap.String("job_id", jobID), zap.Error(cause))
	if w.failer == nil {
		return
	}
	if err := w.failer.FailJob(ctx, jobID, cause.Error()); err != nil {
		w.logger.Error("fail job after infra fault",
			zap.String("job_id", jobID), zap.Error(err))
	}
}
