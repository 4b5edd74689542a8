// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/jobs"
	"github.com/marketmap/shopcrawler/internal/metrics"
)

// JobService is the slice of the job controller the handlers need.
type JobService interface {
	StartJob(ctx context.Context, seeds []string, maxDepth int) (crawler.Job, error)
	GetJob(ctx context.Context, jobID string) (crawler.Job, error)
	ListJobs(ctx context.Context, status crawler.JobStatus) ([]crawler.Job, error)
	ListResults(ctx context.Context, jobID string) ([]crawler.CrawlResult, error)
	CancelJob(ctx context.Context, jobID string) error
}

// Server wires HTTP handlers to the job controller.
type Server struct {
	router chi.Router
	jobs   JobService
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobService JobService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:   jobService,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/results", s.getJobResults)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Seeds    []string `json:"seeds"`
	MaxDepth int      `json:"max_depth"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Seeds) == 0 {
		s.writeError(w, http.StatusBadRequest, "seeds required")
		return
	}
	job, err := s.jobs.StartJob(r.Context(), req.Seeds, req.MaxDepth)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"status":    job.Status,
		"max_depth": job.MaxDepth,
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := crawler.JobStatus(r.URL.Query().Get("status"))
	list, err := s.jobs.ListJobs(r.Context(), status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	results, err := s.jobs.ListResults(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if results == nil {
		results = []crawler.CrawlResult{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  jobID,
		"results": results,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.CancelJob(r.Context(), jobID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(crawler.JobStatusCancelled),
	})
}

// writeServiceError maps controller errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNoValidSeeds):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrJobNotRunning):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, crawler.ErrStoreUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
