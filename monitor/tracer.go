package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "codecell"

// Tracer wraps OpenTelemetry tracing for runs.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, fmt.Sprintf("codecell.%s", name),
		trace.WithAttributes(attrs...),
	)
}

// Common attribute keys for run tracing.
var (
	AttrRunID    = attribute.Key("codecell.run.id")
	AttrLanguage = attribute.Key("codecell.language")
	AttrStatus   = attribute.Key("codecell.status")
	AttrOutputs  = attribute.Key("codecell.outputs")
)
