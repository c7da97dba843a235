// Package metrics defines the Prometheus metric collectors used across the
// services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	MatchQueriesTotal    *prometheus.CounterVec
	MatchLatency         *prometheus.HistogramVec
	RetrievalStageTotal  *prometheus.CounterVec
	CandidateCount       prometheus.Histogram
	SpanWinsTotal        *prometheus.CounterVec
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     prometheus.Counter
	TrackerChunksTotal   *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
	DriftTotal           prometheus.Counter
	ComparisonsSaved     prometheus.Counter
	ChunksIngestedTotal  *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates the collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MatchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_queries_total",
				Help: "Total match queries by outcome (match, weak, no_match, empty).",
			},
			[]string{"outcome"},
		),
		MatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_latency_seconds",
				Help:    "Match query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"cache_status"},
		),
		RetrievalStageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_stage_total",
				Help: "Queries by the retrieval stage that produced their candidates.",
			},
			[]string{"stage"},
		),
		CandidateCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_candidates",
				Help:    "Number of candidate lines scored per query.",
				Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 20000, 60000},
			},
		),
		SpanWinsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "span_wins_total",
				Help: "Winning match spans by number of lines.",
			},
			[]string{"lines"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits by layer.",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		TrackerChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_chunks_total",
				Help: "Transcript chunks processed by resulting tracker status.",
			},
			[]string{"status"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_active_sessions",
				Help: "Number of live tracking sessions.",
			},
		),
		DriftTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_drift_total",
				Help: "Total drift detections that reset a session.",
			},
		),
		ComparisonsSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "comparisons_saved_total",
				Help: "Comparisons persisted to the history store.",
			},
		),
		ChunksIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunks_ingested_total",
				Help: "Transcript chunks accepted for publishing by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MatchQueriesTotal,
		m.MatchLatency,
		m.RetrievalStageTotal,
		m.CandidateCount,
		m.SpanWinsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.TrackerChunksTotal,
		m.ActiveSessions,
		m.DriftTotal,
		m.ComparisonsSaved,
		m.ChunksIngestedTotal,
		m.CircuitBreakerState,
	)

	return m
}

func (m *Metrics) CacheHit(layer string) { m.CacheHitsTotal.WithLabelValues(layer).Inc() }

func (m *Metrics) CacheMiss() { m.CacheMissesTotal.Inc() }

// ObserveMatch records one computed match.
func (m *Metrics) ObserveMatch(outcome, stage string, candidates, spanLines int, elapsed time.Duration) {
	m.MatchQueriesTotal.WithLabelValues(outcome).Inc()
	m.MatchLatency.WithLabelValues("miss").Observe(elapsed.Seconds())
	m.RetrievalStageTotal.WithLabelValues(stage).Inc()
	m.CandidateCount.Observe(float64(candidates))
	if spanLines > 0 {
		m.SpanWinsTotal.WithLabelValues(strconv.Itoa(spanLines)).Inc()
	}
}

// ObserveChunk records a tracker outcome.
func (m *Metrics) ObserveChunk(status string) {
	m.TrackerChunksTotal.WithLabelValues(status).Inc()
	if status == "drift_detected" {
		m.DriftTotal.Inc()
	}
}

func (m *Metrics) SetActiveSessions(n int) { m.ActiveSessions.Set(float64(n)) }

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ComparisonSaved() { m.ComparisonsSaved.Inc() }

// SetBreakerState mirrors a circuit breaker's state into the gauge.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) ChunkIngested(status string) {
	m.ChunksIngestedTotal.WithLabelValues(status).Inc()
}
