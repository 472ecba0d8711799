// Package tracing wires OpenTelemetry into the engine and carries span
// context onto emitted events.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderout/nightglow/events"
)

const TracerName = "nightglow"

// FromSpan captures a span's context as an event trace-context. Returns
// nil when the span context is invalid (no trace or span id).
func FromSpan(span trace.Span) *events.TraceContext {
	sc := span.SpanContext()
	if !sc.IsValid() {
		return nil
	}

	return &events.TraceContext{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

// FromContext captures the current span of ctx, if any.
func FromContext(ctx context.Context) *events.TraceContext {
	return FromSpan(trace.SpanFromContext(ctx))
}

// Setup builds a tracer provider. With an endpoint it batches OTLP/HTTP
// exports; without one it pretty-prints spans to stdout for debugging.
// The returned shutdown func flushes pending spans.
func Setup(ctx context.Context, serviceName, endpoint string) (trace.TracerProvider, func(context.Context) error, error) {
	r := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		attribute.String("component", "engine"),
	)

	var opts []sdktrace.TracerProviderOption
	opts = append(opts, sdktrace.WithResource(r))

	if endpoint != "" {
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)

		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, nil, fmt.Errorf("creating otlp exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithBatcher(exp))
	} else {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithSyncer(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return tp, tp.Shutdown, nil
}
