// Package metrics exposes Prometheus collectors for the keyword harvester.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	protectedCallsTotal     *prometheus.CounterVec
	cacheLookupsTotal       *prometheus.CounterVec
	breakerState            *prometheus.GaugeVec
	breakerTransitionsTotal *prometheus.CounterVec
	rateLimitDelaySeconds   *prometheus.HistogramVec
	retriesTotal            *prometheus.CounterVec
	keywordsTotal           *prometheus.CounterVec
	jobsTotal               *prometheus.CounterVec
	activeWorkers           prometheus.Gauge
	eventsDroppedTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		protectedCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_protected_calls_total",
				Help: "Total number of protected remote calls, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_cache_lookups_total",
				Help: "Cache-aside lookups, labeled by source, operation and result (hit, miss, stale, default).",
			},
			[]string{"source", "op", "result"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_breaker_state",
				Help: "Circuit breaker state per source (0 closed, 1 open, 2 half-open).",
			},
			[]string{"source"},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_breaker_transitions_total",
				Help: "Circuit breaker state transitions, labeled by source, from and to.",
			},
			[]string{"source", "from", "to"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"source"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_retries_total",
				Help: "Total number of retry attempts after a transient failure, labeled by source.",
			},
			[]string{"source"},
		)

		keywordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_keywords_total",
				Help: "Total number of keywords handed to callers, labeled by source.",
			},
			[]string{"source"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total number of harvest jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		eventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_events_dropped_total",
				Help: "Structured events dropped because the event buffer was full.",
			},
		)
	})
}

// SanitizeSource lowercases a source label and maps empty values to "unknown".
func SanitizeSource(source string) string {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return "unknown"
	}
	return source
}

// ObserveProtectedCall counts a protected call outcome ("ok", "error", "rejected").
func ObserveProtectedCall(source, outcome string) {
	Init()
	protectedCallsTotal.WithLabelValues(SanitizeSource(source), outcome).Inc()
}

// ObserveCacheLookup counts a cache-aside lookup result.
func ObserveCacheLookup(source, op, result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(SanitizeSource(source), op, result).Inc()
}

// SetBreakerState records the numeric breaker state for a source.
func SetBreakerState(source string, state int) {
	Init()
	breakerState.WithLabelValues(SanitizeSource(source)).Set(float64(state))
}

// ObserveBreakerTransition counts a breaker state change.
func ObserveBreakerTransition(source, from, to string) {
	Init()
	breakerTransitionsTotal.WithLabelValues(SanitizeSource(source), from, to).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSource(source)).Observe(duration.Seconds())
}

// IncRetries counts one retry attempt.
func IncRetries(source string) {
	Init()
	retriesTotal.WithLabelValues(SanitizeSource(source)).Inc()
}

// AddKeywords counts keywords returned to callers.
func AddKeywords(source string, n int) {
	if n <= 0 {
		return
	}
	Init()
	keywordsTotal.WithLabelValues(SanitizeSource(source)).Add(float64(n))
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// AddEventsDropped counts structured events lost to backpressure.
func AddEventsDropped(n int64) {
	if n <= 0 {
		return
	}
	Init()
	eventsDroppedTotal.Add(float64(n))
}
