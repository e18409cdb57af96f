package emit

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

func TestOTelEmitterEmit(t *testing.T) {
	exporter := setupRecorder(t)
	emitter := NewOTelEmitter("test")

	emitter.Emit(Event{
		CycleID:    "cycle-001",
		JobID:      "job-1",
		EndpointID: "ep-1",
		Msg:        "endpoint_success",
		Meta: map[string]interface{}{
			"attempts":    2,
			"duration":    250 * time.Millisecond,
			"status_code": int64(200),
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != "endpoint_success" {
		t.Errorf("span name = %q, want %q", span.Name, "endpoint_success")
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["schedflow.cycle_id"]; got != "cycle-001" {
		t.Errorf("cycle_id = %v, want %q", got, "cycle-001")
	}
	if got := attrs["schedflow.job_id"]; got != "job-1" {
		t.Errorf("job_id = %v, want %q", got, "job-1")
	}
	if got := attrs["schedflow.endpoint_id"]; got != "ep-1" {
		t.Errorf("endpoint_id = %v, want %q", got, "ep-1")
	}
	if got := attrs["schedflow.meta.attempts"]; got != int64(2) {
		t.Errorf("attempts = %v, want 2", got)
	}
	// Durations are flattened to milliseconds.
	if got := attrs["schedflow.meta.duration_ms"]; got != int64(250) {
		t.Errorf("duration_ms = %v, want 250", got)
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitterErrorStatus(t *testing.T) {
	exporter := setupRecorder(t)
	emitter := NewOTelEmitter("test")

	emitter.Emit(Event{
		CycleID: "cycle-001",
		JobID:   "job-1",
		Msg:     "job_failed",
		Meta:    map[string]interface{}{"error": "plan validation failed"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Status.Code != codes.Error {
		t.Errorf("status code = %v, want %v", span.Status.Code, codes.Error)
	}
	if span.Status.Description != "plan validation failed" {
		t.Errorf("status description = %q", span.Status.Description)
	}
}

func TestOTelEmitterEmitBatch(t *testing.T) {
	exporter := setupRecorder(t)
	emitter := NewOTelEmitter("")

	emitter.EmitBatch([]Event{
		{CycleID: "cycle-001", Msg: "cycle_started"},
		{CycleID: "cycle-001", JobID: "job-1", Msg: "job_started"},
		{CycleID: "cycle-001", Msg: "cycle_completed"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	wantNames := []string{"cycle_started", "job_started", "cycle_completed"}
	for i, span := range spans {
		if span.Name != wantNames[i] {
			t.Errorf("span[%d] name = %q, want %q", i, span.Name, wantNames[i])
		}
	}
}

func TestOTelEmitterFlush(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter("test")
	emitter.Emit(Event{CycleID: "cycle-001", Msg: "cycle_started"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if spans := exporter.GetSpans(); len(spans) != 1 {
		t.Errorf("expected 1 span after flush, got %d", len(spans))
	}
}

func TestOTelEmitterNilMeta(t *testing.T) {
	exporter := setupRecorder(t)
	emitter := NewOTelEmitter("test")

	emitter.Emit(Event{CycleID: "cycle-001", Msg: "cycle_started", Meta: nil})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attributeMap(spans[0].Attributes)
	if got := attrs["schedflow.cycle_id"]; got != "cycle-001" {
		t.Errorf("cycle_id = %v, want %q", got, "cycle-001")
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{})
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
