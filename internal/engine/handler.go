package engine

import (
	"context"
	"sort"
	"time"
)

// TaskMeta identifies the task behind a handler invocation.
type TaskMeta struct {
	// InstanceID is the instance this dispatch belongs to.
	InstanceID string
	// DefinitionID names the process definition.
	DefinitionID string
	// NodeID and NodeName identify the task node.
	NodeID   string
	NodeName string
	// HandlerRef is the logical name the handler was registered under.
	HandlerRef string
	// StartedAt is when the engine invoked the handler.
	StartedAt time.Time
}

// ContextView is a read-only, point-in-time copy of an instance's data
// context. Mutating values obtained from it has no effect on the instance;
// handlers return their writes as a result map instead.
type ContextView struct {
	data map[string]any
}

func newContextView(data map[string]any) ContextView {
	return ContextView{data: data}
}

// Get returns the value stored under key.
func (v ContextView) Get(key string) (any, bool) {
	val, ok := v.data[key]
	return val, ok
}

// GetString returns the value under key if it is a string.
func (v ContextView) GetString(key string) (string, bool) {
	val, ok := v.data[key].(string)
	return val, ok
}

// Has reports whether key is present.
func (v ContextView) Has(key string) bool {
	_, ok := v.data[key]
	return ok
}

// Len returns the number of keys.
func (v ContextView) Len() int { return len(v.data) }

// Keys returns all keys in sorted order.
func (v ContextView) Keys() []string {
	keys := make([]string, 0, len(v.data))
	for k := range v.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a shallow copy of the view's entries.
func (v ContextView) Map() map[string]any {
	out := make(map[string]any, len(v.data))
	for k, val := range v.data {
		out[k] = val
	}
	return out
}

// Handler executes the work behind a task node. The returned map is merged
// into the instance data context on success; returning nil merges nothing.
// Handlers doing asynchronous work simply block until it resolves — the
// engine awaits every dispatch the same way.
type Handler interface {
	Execute(ctx context.Context, view ContextView, meta TaskMeta) (map[string]any, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, view ContextView, meta TaskMeta) (map[string]any, error)

// Execute calls the wrapped function.
func (f HandlerFunc) Execute(ctx context.Context, view ContextView, meta TaskMeta) (map[string]any, error) {
	return f(ctx, view, meta)
}
