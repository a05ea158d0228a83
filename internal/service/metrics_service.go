package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/turnos-api/internal/models"
)

// Reactor outcome labels.
const (
	ReactorResultApplied   = "applied"
	ReactorResultNoop      = "noop"
	ReactorResultDuplicate = "duplicate"
	ReactorResultFailed    = "failed"
)

// MetricsSnapshot is a lightweight summary for admin endpoints.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	Transitions              uint64    `json:"transitions"`
	ReactorFailures          uint64    `json:"reactorFailures"`
	Inconsistencies          uint64    `json:"inconsistencies"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	transitions     *prometheus.CounterVec
	reactorEvents   *prometheus.CounterVec
	reactorLag      prometheus.Observer
	inconsistencies prometheus.Counter
	candidateSearch prometheus.Observer

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	transitionCount      uint64
	reactorFailureCount  uint64
	inconsistencyCount   uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "change_request_transitions_total",
		Help: "Committed change request transitions",
	}, []string{"action", "from", "to"})

	reactorEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "change_request_reactor_events_total",
		Help: "Outbox events handled by the reactor by result",
	}, []string{"action", "result"})

	reactorLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "change_request_reactor_lag_seconds",
		Help:    "Delay between a transition commit and its reaction",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	})

	inconsistencies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "change_request_inconsistencies_total",
		Help: "Events the reactor gave up on; they need manual reconciliation",
	})

	candidateSearch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "replacement_search_duration_seconds",
		Help:    "Duration of replacement candidate searches",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		transitions, reactorEvents, reactorLag, inconsistencies, candidateSearch, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		transitions:     transitions,
		reactorEvents:   reactorEvents,
		reactorLag:      reactorLag,
		inconsistencies: inconsistencies,
		candidateSearch: candidateSearch,
	}
}

// Registry exposes the underlying registry so callers can attach extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordTransition counts a committed change request transition.
func (m *MetricsService) RecordTransition(ev *models.ChangeRequestEvent) {
	if m == nil || ev == nil {
		return
	}
	from := string(ev.FromStatus)
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(string(ev.Action), from, string(ev.ToStatus)).Inc()
	atomic.AddUint64(&m.transitionCount, 1)
}

// RecordReactorEvent counts a reactor outcome and, on success, the commit-to-reaction lag.
func (m *MetricsService) RecordReactorEvent(action models.TransitionAction, result string, lag time.Duration) {
	if m == nil {
		return
	}
	m.reactorEvents.WithLabelValues(string(action), result).Inc()
	if result == ReactorResultFailed {
		atomic.AddUint64(&m.reactorFailureCount, 1)
		return
	}
	if result == ReactorResultApplied && lag > 0 {
		m.reactorLag.Observe(lag.Seconds())
	}
}

// RecordInconsistency counts an event abandoned by the reactor.
func (m *MetricsService) RecordInconsistency() {
	if m == nil {
		return
	}
	m.inconsistencies.Inc()
	atomic.AddUint64(&m.inconsistencyCount, 1)
}

// ObserveCandidateSearch records the duration of a replacement search.
func (m *MetricsService) ObserveCandidateSearch(duration time.Duration) {
	if m == nil {
		return
	}
	m.candidateSearch.Observe(duration.Seconds())
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                atomic.LoadUint64(&m.cacheHitCount),
		CacheMisses:              atomic.LoadUint64(&m.cacheMissCount),
		Transitions:              atomic.LoadUint64(&m.transitionCount),
		ReactorFailures:          atomic.LoadUint64(&m.reactorFailureCount),
		Inconsistencies:          atomic.LoadUint64(&m.inconsistencyCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
