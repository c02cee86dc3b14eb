package telemetry

import (
	"context"
	"sync"
	"time"
)

// RecordedSpan is the final state of one span captured by a Recorder.
type RecordedSpan struct {
	Name    string
	Attrs   Attributes
	Status  Status
	Err     error
	Started time.Time
	Ended   time.Time
}

// Recorder is an in-memory emitter for tests and local inspection. It keeps
// every ended span in start order and is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	spans []*recorderSpan
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) StartSpan(ctx context.Context, name string, attrs Attributes) (context.Context, Span) {
	span := &recorderSpan{
		recorder: r,
		name:     name,
		attrs:    attrs.Clone(),
		started:  time.Now(),
	}
	r.mu.Lock()
	r.spans = append(r.spans, span)
	r.mu.Unlock()
	return ctx, span
}

// Spans returns the spans that have ended, in the order they were started.
func (r *Recorder) Spans() []RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RecordedSpan, 0, len(r.spans))
	for _, s := range r.spans {
		s.mu.Lock()
		if s.ended {
			out = append(out, RecordedSpan{
				Name:    s.name,
				Attrs:   s.attrs.Clone(),
				Status:  s.status,
				Err:     s.err,
				Started: s.started,
				Ended:   s.endedAt,
			})
		}
		s.mu.Unlock()
	}
	return out
}

// Open reports how many started spans have not ended yet.
func (r *Recorder) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var open int
	for _, s := range r.spans {
		s.mu.Lock()
		if !s.ended {
			open++
		}
		s.mu.Unlock()
	}
	return open
}

// Reset forgets all recorded spans.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = nil
}

type recorderSpan struct {
	recorder *Recorder

	mu      sync.Mutex
	name    string
	attrs   Attributes
	status  Status
	err     error
	started time.Time
	endedAt time.Time
	ended   bool
}

func (s *recorderSpan) SetAttributes(attrs Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = s.attrs.WithAll(attrs)
}

func (s *recorderSpan) End(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.status = status
	s.err = err
	s.endedAt = time.Now()
}
