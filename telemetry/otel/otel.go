// Package otel reports engine spans through OpenTelemetry tracing. The
// emitter resolves its tracer from the global tracer provider by default, so
// applications configure exporters the usual otel way and procflow spans show
// up alongside their own.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/procflow/telemetry"
)

// EmitterName is the name used to register this emitter.
const EmitterName = "otel"

const tracerName = "procflow-engine-tracer"

func init() {
	telemetry.Register(EmitterName, func() (telemetry.Emitter, error) {
		return New(), nil
	})
}

// Emitter opens one OpenTelemetry span per engine span.
type Emitter struct {
	tracer trace.Tracer
}

// New builds an emitter on the global tracer provider.
func New() *Emitter {
	return &Emitter{tracer: otel.Tracer(tracerName)}
}

// NewWithProvider builds an emitter on a specific tracer provider instead of
// the global one.
func NewWithProvider(tp trace.TracerProvider) *Emitter {
	return &Emitter{tracer: tp.Tracer(tracerName)}
}

func (e *Emitter) StartSpan(ctx context.Context, name string, attrs telemetry.Attributes) (context.Context, telemetry.Span) {
	ctx, otelSpan := e.tracer.Start(ctx, name, trace.WithAttributes(keyValues(attrs)...))
	return ctx, &span{span: otelSpan}
}

type span struct {
	span trace.Span
}

func (s *span) SetAttributes(attrs telemetry.Attributes) {
	s.span.SetAttributes(keyValues(attrs)...)
}

func (s *span) End(status telemetry.Status, err error) {
	if err != nil {
		s.span.RecordError(err)
	}
	switch status {
	case telemetry.StatusOK:
		s.span.SetStatus(codes.Ok, "")
	case telemetry.StatusCancelled:
		s.span.SetStatus(codes.Error, "cancelled")
	default:
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		s.span.SetStatus(codes.Error, msg)
	}
	s.span.End()
}

func keyValues(attrs telemetry.Attributes) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kvs = append(kvs, keyValue(key, value))
	}
	return kvs
}

// keyValue maps the engine's loosely typed attribute values onto the otel
// attribute types, falling back to a formatted string the way the router
// middlewares stringify metadata.
func keyValue(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
