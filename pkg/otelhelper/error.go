package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetStepOutcome tags span with how the step delivery ended. A non-nil err
// marks the span as failed and records a "step_failed" event.
func SetStepOutcome(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String(StepOutcomeKey, outcome))

	if err == nil {
		span.SetStatus(codes.Ok, "")

		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("step_failed", trace.WithAttributes(attribute.String(StepOutcomeKey, outcome)))
}
