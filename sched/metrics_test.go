package sched

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(registry)

	pm.RecordCycle(500 * time.Millisecond)
	pm.RecordJob("success")
	pm.RecordJob("success")
	pm.RecordJob("failed")
	pm.RecordEndpointCall("success", 20*time.Millisecond)
	pm.RecordEndpointCall("circuit_open", 0)
	pm.IncrementRetries("http_5xx")
	pm.RecordCircuitTransition("closed", "open")
	pm.RecordReasonerCall("plan")
	pm.RecordReasonerMalformed("plan", "schema_parse_error", true)
	pm.RecordTokens(TokenUsage{Input: 100, Output: 50, Total: 150})
	pm.UpdateInflightJobs(3)
	pm.UpdateCycleProgress(5, 2)

	if got := testutil.ToFloat64(pm.cycles); got != 1 {
		t.Errorf("cycles_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.jobs.WithLabelValues("success")); got != 2 {
		t.Errorf("jobs_total{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.jobs.WithLabelValues("failed")); got != 1 {
		t.Errorf("jobs_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.endpointCalls.WithLabelValues("circuit_open")); got != 1 {
		t.Errorf("endpoint_calls_total{circuit_open} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.endpointRetries.WithLabelValues("http_5xx")); got != 1 {
		t.Errorf("endpoint_retries_total{http_5xx} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.circuitTransitions.WithLabelValues("closed", "open")); got != 1 {
		t.Errorf("circuit_transitions_total{closed,open} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.tokens.WithLabelValues("input")); got != 100 {
		t.Errorf("tokens_total{input} = %v, want 100", got)
	}
	if got := testutil.ToFloat64(pm.inflightJobs); got != 3 {
		t.Errorf("inflight_jobs = %v, want 3", got)
	}
	if got := testutil.ToFloat64(pm.cycleProgress.WithLabelValues("completed")); got != 2 {
		t.Errorf("cycle_progress{completed} = %v, want 2", got)
	}
}

func TestPrometheusMetricsLatencySampling(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.SetSamplingRate(0)
	pm.RecordEndpointCall("success", 20*time.Millisecond)
	if got := testutil.ToFloat64(pm.endpointCalls.WithLabelValues("success")); got != 1 {
		t.Errorf("endpoint_calls_total{success} = %v, want 1 (counters are never sampled)", got)
	}
	if got := testutil.CollectAndCount(pm.endpointLatency); got != 0 {
		t.Errorf("latency series = %d, want 0 at rate 0", got)
	}

	pm.SetSamplingRate(1)
	pm.RecordEndpointCall("success", 20*time.Millisecond)
	if got := testutil.CollectAndCount(pm.endpointLatency); got != 1 {
		t.Errorf("latency series = %d, want 1 at rate 1", got)
	}

	// Out-of-range rates clamp rather than error.
	pm.SetSamplingRate(2)
	pm.RecordEndpointCall("failed", time.Millisecond)
	if got := testutil.CollectAndCount(pm.endpointLatency); got != 2 {
		t.Errorf("latency series = %d, want 2 after clamped rate", got)
	}
}

func TestPrometheusMetricsTokenTracking(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.SetTrackTokens(false)
	pm.RecordTokens(TokenUsage{Input: 100, Output: 50, Total: 150})
	if got := testutil.ToFloat64(pm.tokens.WithLabelValues("input")); got != 0 {
		t.Errorf("tokens_total{input} = %v, want 0 while tracking disabled", got)
	}

	pm.SetTrackTokens(true)
	pm.RecordTokens(TokenUsage{Input: 100, Output: 50, Total: 150})
	if got := testutil.ToFloat64(pm.tokens.WithLabelValues("input")); got != 100 {
		t.Errorf("tokens_total{input} = %v, want 100 after re-enable", got)
	}
}

func TestPrometheusMetricsDisable(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.Disable()
	pm.RecordJob("success")
	if got := testutil.ToFloat64(pm.jobs.WithLabelValues("success")); got != 0 {
		t.Errorf("jobs_total recorded while disabled: %v", got)
	}

	pm.Enable()
	pm.RecordJob("success")
	if got := testutil.ToFloat64(pm.jobs.WithLabelValues("success")); got != 1 {
		t.Errorf("jobs_total = %v, want 1 after re-enable", got)
	}
}
