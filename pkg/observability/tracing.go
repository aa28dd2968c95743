// Package observability wires OpenTelemetry tracing into the core. It
// carries no OTLP exporter dependency: spans are rendered as
// structured log lines through the same slog sink the rest of the
// core logs through, rather than requiring a collector to be running
// for local development and tests to produce useful trace output.
package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// slogSpanExporter renders completed spans as structured log lines.
type slogSpanExporter struct {
	logger *slog.Logger
}

func (e *slogSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.logger.Info("span",
			"name", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status", s.Status().Code.String(),
		)
	}
	return nil
}

func (e *slogSpanExporter) Shutdown(ctx context.Context) error { return nil }

// NewTracerProvider constructs and registers the process-wide
// TracerProvider, sampling every span (this core has no volume problem
// that would warrant dropping traces).
func NewTracerProvider(serviceName string, logger *slog.Logger) *sdktrace.TracerProvider {
	res, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(&slogSpanExporter{logger: logger}, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp
}

var tracer = otel.Tracer("ubl-core")

// StartSpan starts a span on the process-wide tracer. Before
// NewTracerProvider is called this resolves to otel's no-op tracer, so
// it is always safe to call.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
