package sched

import (
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics collection for
// engine monitoring in production environments.
//
// Metrics exposed (all namespaced with "schedflow_"):
//
// 1. cycles_total (counter): Completed processing cycles.
//
// 2. jobs_total (counter): Jobs processed, labeled by outcome.
// Labels: outcome (success/failed).
//
// 3. endpoint_calls_total (counter): Endpoint call results, labeled by
// outcome. Labels: outcome (success/failed/aborted/circuit_open).
//
// 4. endpoint_retries_total (counter): Retry attempts issued by the retry
// policy. Labels: category.
//
// 5. circuit_transitions_total (counter): Circuit breaker state changes.
// Labels: from, to.
//
// 6. reasoner_calls_total (counter): Reasoner invocations.
// Labels: phase (plan/schedule).
//
// 7. reasoner_malformed_total (counter): Malformed reasoner responses.
// Labels: phase, category, repaired (true/false).
//
// 8. tokens_total (counter): Token usage reported by the reasoner.
// Labels: kind (input/output/reasoning/cached_input).
//
// 9. cycle_duration_ms (histogram): Cycle wall time in milliseconds.
// Buckets from 10ms to 10m.
//
// 10. endpoint_latency_ms (histogram): Endpoint call duration per attempt.
// Labels: outcome. Buckets from 1ms to 60s.
//
// 11. inflight_jobs (gauge): Jobs currently being processed.
//
// 12. cycle_progress (gauge): Completed jobs within the active cycle.
// Labels: kind (total/completed).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewPrometheusMetrics(registry)
//	engine, err := NewEngine(store, reasoner, cfg, WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: all methods delegate to Prometheus collectors, which are
// safe for concurrent use.
type PrometheusMetrics struct {
	cycles             prometheus.Counter
	jobs               *prometheus.CounterVec
	endpointCalls      *prometheus.CounterVec
	endpointRetries    *prometheus.CounterVec
	circuitTransitions *prometheus.CounterVec
	reasonerCalls      *prometheus.CounterVec
	reasonerMalformed  *prometheus.CounterVec
	tokens             *prometheus.CounterVec

	cycleDuration   prometheus.Histogram
	endpointLatency *prometheus.HistogramVec

	inflightJobs  prometheus.Gauge
	cycleProgress *prometheus.GaugeVec

	registry prometheus.Registerer

	mu          sync.RWMutex
	enabled     bool
	sampleRate  float64
	trackTokens bool
}

// NewPrometheusMetrics creates and registers all engine metrics with the
// provided registry. Passing nil uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry:    registry,
		enabled:     true,
		sampleRate:  1,
		trackTokens: true,
	}

	pm.cycles = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "schedflow",
		Name:      "cycles_total",
		Help:      "Completed processing cycles",
	})

	pm.jobs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schedflow",
		Name:      "jobs_total",
		Help:      "Jobs processed, by outcome",
	}, []string{"outcome"}) // outcome: success, failed

	pm.endpointCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schedflow",
		Name:      "endpoint_calls_total",
		Help:      "Endpoint call results, by outcome",
	}, []string{"outcome"}) // outcome: success, failed, aborted, circuit_open

	pm.endpointRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schedflow",
		Name:      "endpoint_retries_total",
		Help:      "Retry attempts issued by the retry policy",
	}, []string{"category"})

	pm.circuitTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schedflow",
		Name:      "circuit_transitions_total",
		Help:      "Circuit breaker state changes",
	}, []string{"from", "to"})

	pm.reasonerCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schedflow",
		Name:      "reasoner_calls_total",
		Help:      "Reasoner invocations, by phase",
	}, []string{"phase"}) // phase: plan, schedule

	pm.reasonerMalformed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schedflow",
		Name:      "reasoner_malformed_total",
		Help:      "Malformed reasoner responses, by phase and category",
	}, []string{"phase", "category", "repaired"})

	pm.tokens = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schedflow",
		Name:      "tokens_total",
		Help:      "Token usage reported by the reasoner",
	}, []string{"kind"}) // kind: input, output, reasoning, cached_input

	pm.cycleDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "schedflow",
		Name:      "cycle_duration_ms",
		Help:      "Cycle wall time in milliseconds",
		Buckets:   []float64{10, 100, 500, 1000, 5000, 15000, 60000, 300000, 600000},
	})

	pm.endpointLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "schedflow",
		Name:      "endpoint_latency_ms",
		Help:      "Endpoint call duration per attempt in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 15000, 60000},
	}, []string{"outcome"})

	pm.inflightJobs = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "schedflow",
		Name:      "inflight_jobs",
		Help:      "Jobs currently being processed",
	})

	pm.cycleProgress = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "schedflow",
		Name:      "cycle_progress",
		Help:      "Job counts within the active cycle",
	}, []string{"kind"}) // kind: total, completed

	return pm
}

// RecordCycle records a completed cycle and its duration.
func (pm *PrometheusMetrics) RecordCycle(duration time.Duration) {
	if !pm.recording() {
		return
	}
	pm.cycles.Inc()
	pm.cycleDuration.Observe(float64(duration.Milliseconds()))
}

// RecordJob records one processed job by outcome ("success" or "failed").
func (pm *PrometheusMetrics) RecordJob(outcome string) {
	if !pm.recording() {
		return
	}
	pm.jobs.WithLabelValues(outcome).Inc()
}

// RecordEndpointCall records one endpoint call result and its latency.
// Outcome is one of "success", "failed", "aborted", "circuit_open". The
// latency observation is downsampled by the configured sampling rate; the
// call counter is never sampled.
func (pm *PrometheusMetrics) RecordEndpointCall(outcome string, latency time.Duration) {
	if !pm.recording() {
		return
	}
	pm.endpointCalls.WithLabelValues(outcome).Inc()
	if pm.sampleLatency() {
		pm.endpointLatency.WithLabelValues(outcome).Observe(float64(latency.Milliseconds()))
	}
}

// IncrementRetries records one retry attempt for a failure category.
func (pm *PrometheusMetrics) IncrementRetries(category string) {
	if !pm.recording() {
		return
	}
	pm.endpointRetries.WithLabelValues(category).Inc()
}

// RecordCircuitTransition records one circuit breaker state change.
func (pm *PrometheusMetrics) RecordCircuitTransition(from, to string) {
	if !pm.recording() {
		return
	}
	pm.circuitTransitions.WithLabelValues(from, to).Inc()
}

// RecordReasonerCall records one reasoner invocation for a phase.
func (pm *PrometheusMetrics) RecordReasonerCall(phase string) {
	if !pm.recording() {
		return
	}
	pm.reasonerCalls.WithLabelValues(phase).Inc()
}

// RecordReasonerMalformed records one malformed reasoner response.
func (pm *PrometheusMetrics) RecordReasonerMalformed(phase, category string, repaired bool) {
	if !pm.recording() {
		return
	}
	rep := "false"
	if repaired {
		rep = "true"
	}
	pm.reasonerMalformed.WithLabelValues(phase, category, rep).Inc()
}

// RecordTokens folds a token usage delta into the token counters. A no-op
// when token tracking is disabled.
func (pm *PrometheusMetrics) RecordTokens(usage TokenUsage) {
	pm.mu.RLock()
	record := pm.enabled && pm.trackTokens
	pm.mu.RUnlock()
	if !record {
		return
	}
	if usage.Input > 0 {
		pm.tokens.WithLabelValues("input").Add(float64(usage.Input))
	}
	if usage.Output > 0 {
		pm.tokens.WithLabelValues("output").Add(float64(usage.Output))
	}
	if usage.Reasoning > 0 {
		pm.tokens.WithLabelValues("reasoning").Add(float64(usage.Reasoning))
	}
	if usage.CachedInput > 0 {
		pm.tokens.WithLabelValues("cached_input").Add(float64(usage.CachedInput))
	}
}

// UpdateInflightJobs sets the current number of jobs being processed.
func (pm *PrometheusMetrics) UpdateInflightJobs(count int) {
	if !pm.recording() {
		return
	}
	pm.inflightJobs.Set(float64(count))
}

// UpdateCycleProgress publishes the active cycle's job counts.
func (pm *PrometheusMetrics) UpdateCycleProgress(total, completed int) {
	if !pm.recording() {
		return
	}
	pm.cycleProgress.WithLabelValues("total").Set(float64(total))
	pm.cycleProgress.WithLabelValues("completed").Set(float64(completed))
}

func (pm *PrometheusMetrics) recording() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// sampleLatency decides whether this call's latency observation is kept.
func (pm *PrometheusMetrics) sampleLatency() bool {
	pm.mu.RLock()
	rate := pm.sampleRate
	pm.mu.RUnlock()
	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	default:
		return rand.Float64() < rate //nolint:gosec // sampling, not crypto
	}
}

// SetSamplingRate sets the latency sampling rate, clamped to [0,1].
func (pm *PrometheusMetrics) SetSamplingRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.sampleRate = rate
}

// SetTrackTokens toggles the token counters.
func (pm *PrometheusMetrics) SetTrackTokens(track bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.trackTokens = track
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
