package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter forwards events to OpenTelemetry as spans. Each event becomes
// a short span named after the event message, carrying cycle, job, and
// endpoint identifiers plus metadata as attributes.
//
// Wire a real exporter by configuring the global tracer provider before
// constructing the emitter; with no provider configured the spans are
// no-ops.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter returns an emitter using the named tracer from the global
// provider. An empty name defaults to "schedflow".
func NewOTelEmitter(tracerName string) *OTelEmitter {
	if tracerName == "" {
		tracerName = "schedflow"
	}
	return &OTelEmitter{tracer: otel.Tracer(tracerName)}
}

// Emit records the event as a completed span.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if errVal, ok := event.Meta["error"]; ok {
		span.SetStatus(codes.Error, fmt.Sprintf("%v", errVal))
	}
}

// EmitBatch records several events at once. Useful when draining a buffer.
func (o *OTelEmitter) EmitBatch(events []Event) {
	for _, ev := range events {
		o.Emit(ev)
	}
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	attrs := []attribute.KeyValue{
		attribute.String("schedflow.event", event.Msg),
	}
	if event.CycleID != "" {
		attrs = append(attrs, attribute.String("schedflow.cycle_id", event.CycleID))
	}
	if event.JobID != "" {
		attrs = append(attrs, attribute.String("schedflow.job_id", event.JobID))
	}
	if event.EndpointID != "" {
		attrs = append(attrs, attribute.String("schedflow.endpoint_id", event.EndpointID))
	}
	span.SetAttributes(attrs...)
}

func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for k, v := range meta {
		key := "schedflow.meta." + k
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(key, val))
		case int:
			span.SetAttributes(attribute.Int(key, val))
		case int64:
			span.SetAttributes(attribute.Int64(key, val))
		case float64:
			span.SetAttributes(attribute.Float64(key, val))
		case bool:
			span.SetAttributes(attribute.Bool(key, val))
		case time.Duration:
			span.SetAttributes(attribute.Int64(key+"_ms", val.Milliseconds()))
		default:
			span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", val)))
		}
	}
}

// Flush forces export of any buffered spans when the configured tracer
// provider supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
