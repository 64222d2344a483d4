// Package tracing provides the shared OTel tracer helper.
//
// Without a registered TracerProvider the global no-op provider is used, so
// tests and local runs pay nothing for spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "shoply"

// Start creates a span as a child of the span in ctx. The caller must End it.
//
//	ctx, span := tracing.Start(ctx, "orders.place",
//	    attribute.String("shoply.user.id", userID.String()),
//	)
//	defer span.End()
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// Fail records err on the span and marks it as errored. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
