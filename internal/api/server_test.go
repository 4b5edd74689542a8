package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/jobs"
)

type fakeJobService struct {
	jobs      map[string]crawler.Job
	results   map[string][]crawler.CrawlResult
	cancelled []string
	startErr  error
}

func newFakeJobService() *fakeJobService {
	return &fakeJobService{
		jobs:    make(map[string]crawler.Job),
		results: make(map[string][]crawler.CrawlResult),
	}
}

func (f *fakeJobService) StartJob(_ context.Context, seeds []string, maxDepth int) (crawler.Job, error) {
	if f.startErr != nil {
		return crawler.Job{}, f.startErr
	}
	job := crawler.Job{
		ID:       fmt.Sprintf("job-%d", len(f.jobs)+1),
		Seeds:    seeds,
		MaxDepth: maxDepth,
		Status:   crawler.JobStatusRunning,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobService) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return job, nil
}

func (f *fakeJobService) ListJobs(_ context.Context, status crawler.JobStatus) ([]crawler.Job, error) {
	var list []crawler.Job
	for _, job := range f.jobs {
		if status == "" || job.Status == status {
			list = append(list, job)
		}
	}
	return list, nil
}

func (f *fakeJobService) ListResults(_ context.Context, jobID string) ([]crawler.CrawlResult, error) {
	if _, ok := f.jobs[jobID]; !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return f.results[jobID], nil
}

func (f *fakeJobService) CancelJob(_ context.Context, jobID string) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("cancel job %s: %w", jobID, crawler.ErrJobNotRunning)
	}
	job.Status = crawler.JobStatusCancelled
	f.jobs[jobID] = job
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func newTestServer(service JobService) *httptest.Server {
	return httptest.NewServer(NewServer(service, zap.NewNop()).Handler())
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	service := newFakeJobService()
	srv := newTestServer(service)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/v1/jobs", map[string]any{
		"seeds":     []string{"https://shop.example"},
		"max_depth": 2,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "job-1", body["job_id"])
	require.Equal(t, "running", body["status"])
}

func TestSubmitJobValidation(t *testing.T) {
	t.Parallel()

	service := newFakeJobService()
	srv := newTestServer(service)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/v1/jobs", map[string]any{"seeds": []string{}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	service.startErr = jobs.ErrNoValidSeeds
	resp = postJSON(t, srv.URL+"/v1/jobs", map[string]any{"seeds": []string{"bogus"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetJobStatus(t *testing.T) {
	t.Parallel()

	service := newFakeJobService()
	service.jobs["job-1"] = crawler.Job{ID: "job-1", Status: crawler.JobStatusCompleted}
	srv := newTestServer(service)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/jobs/job-1/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	job := body["job"].(map[string]any)
	require.Equal(t, "completed", job["status"])

	resp, err = http.Get(srv.URL + "/v1/jobs/ghost/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetJobResults(t *testing.T) {
	t.Parallel()

	service := newFakeJobService()
	service.jobs["job-1"] = crawler.Job{ID: "job-1", Status: crawler.JobStatusRunning}
	service.results["job-1"] = []crawler.CrawlResult{
		{JobID: "job-1", URL: "https://shop.example/a", Status: crawler.ResultSuccess},
	}
	srv := newTestServer(service)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/jobs/job-1/results")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Len(t, body["results"], 1)

	// A job with no results yet returns an empty list, not null.
	service.jobs["job-2"] = crawler.Job{ID: "job-2", Status: crawler.JobStatusRunning}
	resp, err = http.Get(srv.URL + "/v1/jobs/job-2/results")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Empty(t, results)
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	service := newFakeJobService()
	service.jobs["job-1"] = crawler.Job{ID: "job-1", Status: crawler.JobStatusRunning}
	srv := newTestServer(service)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/v1/jobs/job-1/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	require.Equal(t, []string{"job-1"}, service.cancelled)

	// Cancelling again conflicts.
	resp = postJSON(t, srv.URL+"/v1/jobs/job-1/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/jobs/ghost/cancel", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeJobService())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeJobService())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
