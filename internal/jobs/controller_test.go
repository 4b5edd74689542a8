package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/clock/system"
	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/dedup"
	"github.com/marketmap/shopcrawler/internal/extract"
	"github.com/marketmap/shopcrawler/internal/frontier"
	"github.com/marketmap/shopcrawler/internal/storage/memory"
	"github.com/marketmap/shopcrawler/internal/worker"
)

type admitAll struct{}

func (admitAll) Admit(string) bool    { return true }
func (admitAll) Release(string, bool) {}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

type fakeFetcher struct {
	pages map[string]crawler.FetchResponse
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{StatusCode: 404}, nil
	}
	resp.URL = req.URL
	return resp, nil
}

type harness struct {
	controller *Controller
	worker     *worker.Worker
	frontier   *frontier.Frontier
	jobs       *memory.JobStore
	sink       *memory.ResultStore
	dedup      *dedup.MemoryStore
}

func newHarness(t *testing.T, fetcher crawler.Fetcher, cfg Config) *harness {
	t.Helper()
	claims := dedup.NewMemoryStore()
	f := frontier.New(
		claims,
		admitAll{},
		memory.NewFrontierStore(),
		system.New(),
		&seqIDGen{},
		frontier.Config{MaxRetries: 1, BackoffBase: time.Millisecond, LeaseTimeout: time.Minute},
		zap.NewNop(),
	)
	jobStore := memory.NewJobStore()
	sink := memory.NewResultStore()
	controller := New(jobStore, sink, f, claims, system.New(), &seqIDGen{n: 100}, cfg, zap.NewNop())
	var w *worker.Worker
	if fetcher != nil {
		w = worker.New(
			f, fetcher, extract.New(), sink, nil, memory.NewBlobStore(), jobStore,
			controller, system.New(), worker.Config{FetchTimeout: time.Second}, zap.NewNop(),
		)
	}
	return &harness{
		controller: controller,
		worker:     w,
		frontier:   f,
		jobs:       jobStore,
		sink:       sink,
		dedup:      claims,
	}
}

func page(links ...string) crawler.FetchResponse {
	body := "<html><body>"
	for _, l := range links {
		body += `<a href="` + l + `">x</a>`
	}
	body += "</body></html>"
	return crawler.FetchResponse{StatusCode: 200, Body: []byte(body), Duration: 5 * time.Millisecond}
}

func TestStartJobValidatesSeeds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, Config{})
	ctx := context.Background()

	_, err := h.controller.StartJob(ctx, nil, 1)
	require.ErrorIs(t, err, ErrNoValidSeeds)

	_, err = h.controller.StartJob(ctx, []string{"ftp://shop.example", "not a url %"}, 1)
	require.ErrorIs(t, err, ErrNoValidSeeds)
}

func TestStartJobDepthDefaultsAndCap(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, Config{DefaultMaxDepth: 2, MaxDepthCap: 4})
	ctx := context.Background()

	job, err := h.controller.StartJob(ctx, []string{"https://shop.example"}, 0)
	require.NoError(t, err)
	require.Equal(t, 2, job.MaxDepth)

	job, err = h.controller.StartJob(ctx, []string{"https://other.example"}, 99)
	require.NoError(t, err)
	require.Equal(t, 4, job.MaxDepth)
	require.Equal(t, crawler.JobStatusRunning, job.Status)
}

func TestJobRunsToCompletionWithDepthLimit(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]crawler.FetchResponse{
		"https://shop.example/a": page("/b"),
		"https://shop.example/b": page("/c"),
		"https://shop.example/c": page(),
	}}
	h := newHarness(t, fetcher, Config{})
	ctx := context.Background()

	job, err := h.controller.StartJob(ctx, []string{"https://shop.example/a"}, 1)
	require.NoError(t, err)

	for h.worker.ProcessOne(ctx) {
	}
	h.controller.checkCompletions(ctx)

	final, err := h.controller.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Finished)
	require.Equal(t, 2, final.Summary.URLsFetched)
	require.Zero(t, final.Summary.URLsFailed)
	// The link to /c sits one past the depth limit.
	require.Equal(t, 1, final.Summary.URLsDiscarded)

	results, err := h.controller.ListResults(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestCompletionWaitsForInFlightWork(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]crawler.FetchResponse{
		"https://shop.example/a": page(),
	}}
	h := newHarness(t, fetcher, Config{})
	ctx := context.Background()

	job, err := h.controller.StartJob(ctx, []string{"https://shop.example/a"}, 0)
	require.NoError(t, err)

	// Entry is queued, not yet processed: the job must stay running.
	h.controller.checkCompletions(ctx)
	current, err := h.controller.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, current.Status)

	for h.worker.ProcessOne(ctx) {
	}
	h.controller.checkCompletions(ctx)
	current, err = h.controller.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, current.Status)
}

func TestCancelJobDiscardsPendingWork(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]crawler.FetchResponse{}}
	h := newHarness(t, fetcher, Config{})
	ctx := context.Background()

	job, err := h.controller.StartJob(ctx, []string{"https://shop.example/a", "https://shop.example/b"}, 0)
	require.NoError(t, err)

	require.NoError(t, h.controller.CancelJob(ctx, job.ID))

	current, err := h.controller.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCancelled, current.Status)
	require.True(t, h.frontier.Drained(job.ID))

	// Cancelling a terminal job is rejected.
	err = h.controller.CancelJob(ctx, job.ID)
	require.ErrorIs(t, err, crawler.ErrJobNotRunning)

	// The completion poll must not overwrite the cancelled state.
	h.controller.checkCompletions(ctx)
	current, err = h.controller.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCancelled, current.Status)
}

func TestFailJobIsIdempotentOnTerminalJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, Config{})
	ctx := context.Background()

	job, err := h.controller.StartJob(ctx, []string{"https://shop.example/a"}, 0)
	require.NoError(t, err)

	require.NoError(t, h.controller.FailJob(ctx, job.ID, "dedup store unreachable"))
	current, err := h.controller.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, current.Status)
	require.Equal(t, "dedup store unreachable", current.ErrorText)

	// A second fault report leaves the first reason in place.
	require.NoError(t, h.controller.FailJob(ctx, job.ID, "other reason"))
	current, err = h.controller.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "dedup store unreachable", current.ErrorText)
}

func TestResumeReregistersRunningJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, Config{})
	ctx := context.Background()

	job, err := h.controller.StartJob(ctx, []string{"https://shop.example/a"}, 1)
	require.NoError(t, err)

	// A fresh controller over the same job store simulates a restart.
	restarted := New(h.jobs, h.sink, h.frontier, h.dedup, system.New(), &seqIDGen{n: 200}, Config{}, zap.NewNop())
	n, err := restarted.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The resumed job accepts discovered URLs again.
	admitted, err := h.frontier.Enqueue(ctx, job.ID, "https://shop.example/next", 0)
	require.NoError(t, err)
	require.True(t, admitted)
}

func TestResumeIgnoresPendingJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, Config{})
	ctx := context.Background()

	// A peer mid-submission has created the job but not finished seeding.
	// The poll must neither adopt it nor declare it complete while its
	// frontier is still empty.
	require.NoError(t, h.jobs.CreateJob(ctx, crawler.Job{
		ID:       "job-pending",
		Seeds:    []string{"https://shop.example/a"},
		MaxDepth: 1,
		Status:   crawler.JobStatusPending,
	}))

	n, err := h.controller.Resume(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	h.controller.checkCompletions(ctx)
	current, err := h.controller.GetJob(ctx, "job-pending")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, current.Status)
}

func TestListResultsUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, Config{})
	_, err := h.controller.ListResults(context.Background(), "ghost")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
