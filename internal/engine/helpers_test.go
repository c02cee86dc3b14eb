package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/procflow/internal/engine/config"
	"github.com/drblury/procflow/internal/engine/definition"
	"github.com/drblury/procflow/internal/engine/jsoncodec"
	loggingpkg "github.com/drblury/procflow/internal/engine/logging"
)

const settleTimeout = 10 * time.Second

func newTestEngine(t *testing.T, conf *configpkg.Config, deps Dependencies) *Engine {
	t.Helper()
	if deps.Registry == nil {
		deps.Registry = NewHandlerRegistry()
	}
	eng, err := TryNewEngine(conf, nil, deps)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

// stepRecorder tracks which task nodes ran, in dispatch-completion order.
type stepRecorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *stepRecorder) record(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, nodeID)
}

func (r *stepRecorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := make([]string, len(r.steps))
	copy(clone, r.steps)
	return clone
}

func (r *stepRecorder) count(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.steps {
		if s == nodeID {
			n++
		}
	}
	return n
}

// recordingHandler records the node it ran for and returns output.
func (r *stepRecorder) handler(output map[string]any) HandlerFunc {
	return func(ctx context.Context, view ContextView, meta TaskMeta) (map[string]any, error) {
		r.record(meta.NodeID)
		return output, nil
	}
}

type testPublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []*message.Message
	err      error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, msg)
	}
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]string, len(p.topics))
	copy(clone, p.topics)
	return clone
}

// Events decodes every published message and returns the events ordered by
// sequence number.
func (p *testPublisher) Events(t *testing.T) []Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	events := make([]Event, 0, len(p.messages))
	for _, msg := range p.messages {
		var event Event
		if err := jsoncodec.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("failed to decode event payload: %v", err)
		}
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events
}

// captureLogger collects log messages so tests can wait for scheduler
// milestones that have no other observable side effect.
type captureLogger struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureLogger) add(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *captureLogger) saw(msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m == msg {
			return true
		}
	}
	return false
}

func (c *captureLogger) waitFor(t *testing.T, msg string) {
	t.Helper()
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		if c.saw(msg) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("log message %q never appeared", msg)
}

func (c *captureLogger) With(loggingpkg.LogFields) loggingpkg.Logger { return c }

func (c *captureLogger) Debug(msg string, _ loggingpkg.LogFields) { c.add(msg) }

func (c *captureLogger) Info(msg string, _ loggingpkg.LogFields) { c.add(msg) }

func (c *captureLogger) Error(msg string, _ error, _ loggingpkg.LogFields) { c.add(msg) }

func (c *captureLogger) Trace(msg string, _ loggingpkg.LogFields) { c.add(msg) }

func waitSettled(t *testing.T, h *InstanceHandle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("instance did not settle within %s", settleTimeout)
	}
	return err
}

func pollTaskState(t *testing.T, in *Instance, nodeID string, want TaskState) {
	t.Helper()
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		if rec, ok := in.Record(nodeID); ok && rec.State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	rec, _ := in.Record(nodeID)
	t.Fatalf("node %q never reached state %q, still %q", nodeID, want, rec.State)
}

func sequentialDefinition(id string) *definition.Definition {
	return definition.NewBuilder(id, "Sequential").
		Start("start").
		Task("a", "Step A", "step.a").
		Task("b", "Step B", "step.b").
		End("end").
		Flow("start", "a").
		Flow("a", "b").
		Flow("b", "end").
		MustBuild()
}

func splitJoinDefinition(id string) *definition.Definition {
	return definition.NewBuilder(id, "Split Join").
		Start("start").
		Split("split", "Fan Out").
		Task("d", "Branch D", "branch.d").
		Task("e", "Branch E", "branch.e").
		Join("join", "Fan In").
		Task("f", "After Join", "after.join").
		End("end").
		Flow("start", "split").
		Flow("split", "d").
		Flow("split", "e").
		Flow("d", "join").
		Flow("e", "join").
		Flow("join", "f").
		Flow("f", "end").
		MustBuild()
}
