// Package telemetry wraps go.opentelemetry.io/otel so session-manager
// operations can be instrumented with a single StartSpan/EndSpan pair,
// the same call shape used by the model clients this engine is deployed
// alongside.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cexll/docx-session-engine"

// NewTracerProvider builds a minimal SDK tracer provider with no exporter
// attached. Callers in the hosted/transport variant register their own
// exporter via trace.WithBatcher before calling otel.SetTracerProvider;
// this constructor exists so the core can be exercised standalone (e.g.
// under `go test`) without requiring an external collector.
func NewTracerProvider(opts ...trace.TracerProviderOption) *trace.TracerProvider {
	return trace.NewTracerProvider(opts...)
}

func tracer() oteltrace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span named name with the given options.
func StartSpan(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, name, opts...)
}

// EndSpan records err (if any) on span and ends it. Safe to call with a
// nil err, in which case the span is marked Ok.
func EndSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// SanitizeAttributes drops attributes whose value would be empty, keeping
// span payloads small and avoiding accidental leakage of zero-value fields.
func SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		if !a.Valid() {
			continue
		}
		if a.Value.AsString() == "" && a.Value.Type() == attribute.STRING {
			continue
		}
		out = append(out, a)
	}
	return out
}
