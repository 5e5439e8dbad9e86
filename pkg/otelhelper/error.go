package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed, recording the error together with any
// domain attributes.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetVeto marks a span whose action was blocked by policy. A veto is the
// gate working as configured, so it is recorded as a span event carrying
// the binding names rather than as an exception.
func SetVeto(span trace.Span, bindings []string) {
	span.AddEvent("policy_veto", trace.WithAttributes(
		attribute.StringSlice(BindingKey, bindings),
	))
	span.SetStatus(codes.Error, "blocked by policy")
}
