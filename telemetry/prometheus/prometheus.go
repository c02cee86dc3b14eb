// Package prometheus aggregates engine spans into Prometheus metrics instead
// of traces: counters and duration histograms per definition and per handler
// ref. Register the Handler on an HTTP mux to expose the scrape endpoint.
package prometheus

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/procflow/telemetry"
)

// EmitterName is the name used to register this emitter.
const EmitterName = "prometheus"

const (
	namespace = "procflow"
	subsystem = "engine"
)

func init() {
	telemetry.Register(EmitterName, func() (telemetry.Emitter, error) {
		return New(prometheus.DefaultRegisterer)
	})
}

// Emitter counts span outcomes and observes span durations. Instance spans
// are labelled by definition, task spans by handler ref; high-cardinality
// labels like the instance ID are deliberately not used.
type Emitter struct {
	registerer prometheus.Registerer

	instancesTotal   *prometheus.CounterVec
	instanceDuration *prometheus.HistogramVec
	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
}

// New builds an emitter on the given registerer, or the default one when reg
// is nil. Calling New twice on the same registerer reuses the collectors that
// are already registered.
func New(reg prometheus.Registerer) (*Emitter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	e := &Emitter{registerer: reg}

	var err error
	e.instancesTotal, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "instances_total",
		Help:      "Finished process instances by definition and status.",
	}, []string{"definition_id", "status"}))
	if err != nil {
		return nil, err
	}

	e.instanceDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "instance_duration_seconds",
		Help:      "Wall time from instance launch to settlement.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"definition_id", "status"}))
	if err != nil {
		return nil, err
	}

	e.tasksTotal, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_total",
		Help:      "Finished task executions by handler ref and status.",
	}, []string{"handler_ref", "status"}))
	if err != nil {
		return nil, err
	}

	e.taskDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "task_duration_seconds",
		Help:      "Handler execution time by handler ref and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler_ref", "status"}))
	if err != nil {
		return nil, err
	}

	return e, nil
}

// Handler returns the scrape endpoint for the registry the emitter was built
// on, falling back to the default registry handler.
func (e *Emitter) Handler() http.Handler {
	if gatherer, ok := e.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (e *Emitter) StartSpan(ctx context.Context, name string, attrs telemetry.Attributes) (context.Context, telemetry.Span) {
	return ctx, &span{
		emitter: e,
		name:    name,
		started: time.Now(),
		attrs:   attrs.Clone(),
	}
}

type span struct {
	emitter *Emitter
	name    string
	started time.Time

	mu    sync.Mutex
	attrs telemetry.Attributes
}

func (s *span) SetAttributes(attrs telemetry.Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range attrs {
		s.attrs[k] = v
	}
}

func (s *span) End(status telemetry.Status, _ error) {
	elapsed := time.Since(s.started).Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.name {
	case telemetry.SpanTask:
		ref := s.label(telemetry.AttrHandlerRef)
		s.emitter.tasksTotal.WithLabelValues(ref, string(status)).Inc()
		s.emitter.taskDuration.WithLabelValues(ref, string(status)).Observe(elapsed)
	case telemetry.SpanInstance:
		def := s.label(telemetry.AttrDefinitionID)
		s.emitter.instancesTotal.WithLabelValues(def, string(status)).Inc()
		s.emitter.instanceDuration.WithLabelValues(def, string(status)).Observe(elapsed)
	}
}

func (s *span) label(key string) string {
	if v, ok := s.attrs[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			return str
		}
	}
	return "unknown"
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := reg.Register(vec)
	if err == nil {
		return vec, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}
	}
	return nil, err
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	err := reg.Register(vec)
	if err == nil {
		return vec, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
			return existing, nil
		}
	}
	return nil, err
}
