// Package telemetry defines the span-emission contract the engine reports
// through. The engine itself only ever talks to the Emitter and Span
// interfaces; concrete backends live in the subpackages (otel, prometheus)
// or in application code, and are injected at engine construction.
package telemetry

import "context"

// Span names the engine opens. Backends that aggregate rather than trace
// (such as the prometheus emitter) switch on these.
const (
	SpanInstance = "procflow.instance"
	SpanTask     = "procflow.task"
)

// Attribute keys the engine sets on every task span.
const (
	AttrInstanceID   = "instance.id"
	AttrDefinitionID = "definition.id"
	AttrNodeID       = "node.id"
	AttrNodeName     = "node.name"
	AttrHandlerRef   = "handler.ref"
	AttrDurationMS   = "duration_ms"
	AttrSuccess      = "success"
)

// Status is the outcome recorded when a span ends.
type Status string

const (
	StatusOK        Status = "ok"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Span is one live span. SetAttributes may be called any number of times
// before End; End must be called exactly once.
type Span interface {
	SetAttributes(attrs Attributes)
	End(status Status, err error)
}

// Emitter opens spans. StartSpan returns a derived context so backends can
// propagate their own span state to nested spans and handler code.
type Emitter interface {
	StartSpan(ctx context.Context, name string, attrs Attributes) (context.Context, Span)
}

// Noop returns an emitter that records nothing. The engine falls back to it
// when no emitter is injected.
func Noop() Emitter { return noopEmitter{} }

type noopEmitter struct{}

type noopSpan struct{}

func (noopEmitter) StartSpan(ctx context.Context, _ string, _ Attributes) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) SetAttributes(Attributes) {}
func (noopSpan) End(Status, error)        {}

// Multi fans every span out to several emitters, so an instance can report to
// OTel and Prometheus at the same time. Contexts are threaded through the
// emitters in order.
func Multi(emitters ...Emitter) Emitter {
	actual := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			actual = append(actual, e)
		}
	}
	switch len(actual) {
	case 0:
		return Noop()
	case 1:
		return actual[0]
	default:
		return multiEmitter(actual)
	}
}

type multiEmitter []Emitter

type multiSpan []Span

func (m multiEmitter) StartSpan(ctx context.Context, name string, attrs Attributes) (context.Context, Span) {
	spans := make(multiSpan, 0, len(m))
	for _, e := range m {
		var span Span
		ctx, span = e.StartSpan(ctx, name, attrs)
		spans = append(spans, span)
	}
	return ctx, spans
}

func (m multiSpan) SetAttributes(attrs Attributes) {
	for _, s := range m {
		s.SetAttributes(attrs)
	}
}

func (m multiSpan) End(status Status, err error) {
	for _, s := range m {
		s.End(status, err)
	}
}
