// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal        *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	linksDiscovered     prometheus.Counter
	dedupRejectsTotal   prometheus.Counter
	frontierEntries     prometheus.Gauge
	dispatchDenials     *prometheus.CounterVec
	retriesTotal        prometheus.Counter
	deadEntriesTotal    prometheus.Counter
	jobsTotal           *prometheus.CounterVec
	activeWorkers       prometheus.Gauge
	breakerTransitions  *prometheus.CounterVec
	leaseRecoveredTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total fetches performed, labeled by domain and HTTP status.",
			},
			[]string{"domain", "status"},
		)

		fetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by domain.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
		)

		linksDiscovered = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_links_discovered_total",
				Help: "Total outbound links discovered on fetched pages.",
			},
		)

		dedupRejectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_dedup_rejects_total",
				Help: "Total URLs rejected by the dedup claim store.",
			},
		)

		frontierEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_entries",
				Help: "Number of entries currently queued, in flight, or retrying.",
			},
		)

		dispatchDenials = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_dispatch_denials_total",
				Help: "Dequeue admissions denied by the rate controller, by reason.",
			},
			[]string{"reason"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total fetch retries scheduled with backoff.",
			},
		)

		deadEntriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_dead_entries_total",
				Help: "Total frontier entries that exhausted retries or failed permanently.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total jobs reaching each terminal status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a work unit.",
			},
		)

		breakerTransitions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_breaker_transitions_total",
				Help: "Circuit breaker transitions, labeled by new state.",
			},
			[]string{"state"},
		)

		leaseRecoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_lease_recovered_total",
				Help: "In-flight entries requeued after their lease expired.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a completed fetch attempt.
func ObserveFetch(domain string, status int, duration time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(domain, strconv.Itoa(status)).Inc()
	fetchDuration.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveLinks counts outbound links discovered on a page.
func ObserveLinks(n int) {
	if linksDiscovered == nil || n <= 0 {
		return
	}
	linksDiscovered.Add(float64(n))
}

// ObserveDedupReject counts a URL rejected by the claim store.
func ObserveDedupReject() {
	if dedupRejectsTotal == nil {
		return
	}
	dedupRejectsTotal.Inc()
}

// IncFrontierEntries tracks admission into the frontier.
func IncFrontierEntries() {
	if frontierEntries == nil {
		return
	}
	frontierEntries.Inc()
}

// DecFrontierEntries tracks removal from the frontier.
func DecFrontierEntries() {
	if frontierEntries == nil {
		return
	}
	frontierEntries.Dec()
}

// ObserveDispatchDenial counts a rate controller denial.
func ObserveDispatchDenial(reason string) {
	if dispatchDenials == nil {
		return
	}
	dispatchDenials.WithLabelValues(reason).Inc()
}

// ObserveRetry counts a scheduled retry.
func ObserveRetry() {
	if retriesTotal == nil {
		return
	}
	retriesTotal.Inc()
}

// ObserveDeadEntry counts a terminally failed entry.
func ObserveDeadEntry() {
	if deadEntriesTotal == nil {
		return
	}
	deadEntriesTotal.Inc()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

// ObserveBreaker counts a circuit breaker transition.
func ObserveBreaker(state string) {
	if breakerTransitions == nil {
		return
	}
	breakerTransitions.WithLabelValues(state).Inc()
}

// ObserveLeaseRecovered counts an entry requeued by lease recovery.
func ObserveLeaseRecovered() {
	if leaseRecoveredTotal == nil {
		return
	}
	leaseRecoveredTotal.Inc()
}
