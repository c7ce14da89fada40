// Package telemetry wraps executor invocation, lock acquisition, and
// evidence writes in OpenTelemetry spans, built directly on
// go.opentelemetry.io/otel rather than through a wrapper package.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/kestrelrun/runner"

// Tracer is the handle every component spans through.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

// Setup configures the global tracer provider. When endpoint is empty,
// spans are recorded in-process with the default (no-export) provider;
// when set, an OTLP/gRPC exporter is wired in.
func Setup(ctx context.Context, endpoint string, debug bool) (*Tracer, func(context.Context) error, error) {
	var opts []sdktrace.TracerProviderOption

	if endpoint != "" {
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Tracer{tracer: tp.Tracer(instrumentationName), debug: debug}, tp.Shutdown, nil
}

// Debug reports whether verbose span attributes (e.g. truncated
// executor output) should be recorded.
func (t *Tracer) Debug() bool { return t.debug }

// StartExecutorSpan starts a span for one executor/LLM invocation.
func (t *Tracer) StartExecutorSpan(ctx context.Context, executorName, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "executor.invoke")
	span.SetAttributes(
		attribute.String("executor.name", executorName),
		attribute.String("task.id", taskID),
	)
	return ctx, span
}

// EndExecutorSpan ends an executor span with its outcome.
func (t *Tracer) EndExecutorSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("executor.status", status))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartLockSpan starts a span for an L2 lock acquisition attempt.
func (t *Tracer) StartLockSpan(ctx context.Context, paths []string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "lock.acquire")
	span.SetAttributes(attribute.StringSlice("lock.paths", paths))
	return ctx, span
}

// EndLockSpan ends a lock span with its outcome.
func (t *Tracer) EndLockSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartEvidenceSpan starts a span for an evidence write.
func (t *Tracer) StartEvidenceSpan(ctx context.Context, callID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "evidence.write")
	span.SetAttributes(attribute.String("evidence.callId", callID))
	return ctx, span
}

// EndEvidenceSpan ends an evidence span with its outcome.
func (t *Tracer) EndEvidenceSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
