package otelobs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lmeterx/stress-engine"

// StartJobSpan starts the span covering one job's claim->...->persist
// lifecycle (spec.md §4.10). Grounded on bc-dunia-mcpdrill's
// internal/otel/tracer.go StartOperationSpan, adapted from per-MCP-call
// span attributes to per-job ones.
func StartJobSpan(ctx context.Context, jobID, flavor string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "job.run",
		trace.WithAttributes(
			attribute.String("stress_engine.job_id", jobID),
			attribute.String("stress_engine.flavor", flavor),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// AddStageEvent records a pipeline stage transition on span (claimed,
// warmup_started, run_started, aggregated, persisted, ...), mirroring the
// teacher's RecordRetry event-on-span idiom.
func AddStageEvent(span trace.Span, stage string) {
	if span == nil {
		return
	}
	span.AddEvent(stage)
}

// RecordOutcome sets the span's final status attribute and records err if
// the job did not reach a clean terminal state, mirroring the teacher's
// RecordError(span, err, errorType, retryable) helper.
func RecordOutcome(span trace.Span, status string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("stress_engine.final_status", status))
	if err != nil {
		span.RecordError(err)
	}
}
