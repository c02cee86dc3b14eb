package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/procflow/internal/engine/config"
	"github.com/drblury/procflow/internal/engine/definition"
	errspkg "github.com/drblury/procflow/internal/engine/errors"
	loggingpkg "github.com/drblury/procflow/internal/engine/logging"
	"github.com/drblury/procflow/telemetry"
)

// Dependencies holds the optional collaborators an Engine can use. Only the
// handler registry is required; leave the other fields nil to run without
// telemetry or the event stream.
type Dependencies struct {
	// Registry supplies the handlers task nodes dispatch to.
	Registry *HandlerRegistry
	// Telemetry receives one span per instance and one per task dispatch.
	Telemetry telemetry.Emitter
	// Events receives lifecycle events on the configured event topic.
	Events message.Publisher
	// Hooks observe task dispatches across all instances.
	Hooks TaskHooks
}

// Engine executes registered process definitions. Register definitions and
// handlers first, then Launch or Execute instances; an Engine is safe for
// concurrent use.
type Engine struct {
	Conf   *configpkg.Config
	Logger loggingpkg.Logger

	emitter   telemetry.Emitter
	publisher message.Publisher
	hooks     TaskHooks
	registry  *HandlerRegistry

	defsMu sync.RWMutex
	defs   map[string]*definition.Graph

	statsMu sync.Mutex
	stats   map[string]*HandlerStats
}

// NewEngine constructs an Engine for the supplied configuration and panics
// when it is unusable. Use TryNewEngine to handle the error instead.
func NewEngine(conf *configpkg.Config, log loggingpkg.Logger, deps Dependencies) *Engine {
	e, err := TryNewEngine(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return e
}

// TryNewEngine constructs an Engine for the supplied configuration. A nil
// config gets defaults, a nil logger discards output.
func TryNewEngine(conf *configpkg.Config, log loggingpkg.Logger, deps Dependencies) (*Engine, error) {
	if conf == nil {
		conf = &configpkg.Config{}
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if log == nil {
		log = loggingpkg.NewNopLogger()
	}
	if deps.Registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	emitter := deps.Telemetry
	if emitter == nil {
		emitter = telemetry.Noop()
	}

	normalized := conf.Normalized()
	log.Info("Creating process engine", loggingpkg.LogFields{
		"max_concurrent_tasks": normalized.MaxConcurrentTasks,
		"default_task_timeout": normalized.DefaultTaskTimeout.String(),
		"event_topic":          normalized.EventTopic,
		"events_enabled":       deps.Events != nil,
	})

	return &Engine{
		Conf:      &normalized,
		Logger:    log,
		emitter:   emitter,
		publisher: deps.Events,
		hooks:     deps.Hooks,
		registry:  deps.Registry,
		defs:      make(map[string]*definition.Graph),
		stats:     make(map[string]*HandlerStats),
	}, nil
}

// RegisterDefinition validates and compiles the definition and makes it
// launchable under its ID. The definition must not be mutated afterwards.
func (e *Engine) RegisterDefinition(def *definition.Definition) error {
	if def == nil || def.ID == "" {
		return errspkg.ErrDefinitionRequired
	}
	graph, err := definition.Compile(def)
	if err != nil {
		return err
	}

	e.defsMu.Lock()
	defer e.defsMu.Unlock()
	if _, exists := e.defs[def.ID]; exists {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateDefinition, def.ID)
	}
	e.defs[def.ID] = graph

	e.Logger.Info("Definition registered", loggingpkg.LogFields{
		"definition_id": def.ID,
		"nodes":         len(def.Nodes),
		"flows":         len(def.Flows),
	})
	return nil
}

// MustRegisterDefinition registers the definition and panics on failure.
func (e *Engine) MustRegisterDefinition(def *definition.Definition) {
	if err := e.RegisterDefinition(def); err != nil {
		panic(err)
	}
}

// Definition returns a registered definition by ID.
func (e *Engine) Definition(id string) (*definition.Definition, bool) {
	if graph, ok := e.lookupDefinition(id); ok {
		return graph.Definition(), true
	}
	return nil, false
}

// Definitions returns the registered definition IDs in sorted order.
func (e *Engine) Definitions() []string {
	e.defsMu.RLock()
	defer e.defsMu.RUnlock()
	out := make([]string, 0, len(e.defs))
	for id := range e.defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) lookupDefinition(id string) (*definition.Graph, bool) {
	e.defsMu.RLock()
	defer e.defsMu.RUnlock()
	graph, ok := e.defs[id]
	return graph, ok
}

// Registry returns the handler registry the engine dispatches through.
func (e *Engine) Registry() *HandlerRegistry { return e.registry }

// Launch starts a new instance of the definition and returns without waiting
// for it to finish. The input map is deep-copied into the instance's data
// context. Cancelling ctx cancels the instance.
func (e *Engine) Launch(ctx context.Context, definitionID string, input map[string]any) (*InstanceHandle, error) {
	graph, ok := e.lookupDefinition(definitionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownDefinition, definitionID)
	}

	in, err := newInstance(graph, input)
	if err != nil {
		return nil, fmt.Errorf("failed to copy input data: %w", err)
	}

	handle := newInstanceHandle(e, in)
	sched := newScheduler(e, handle)
	go sched.run(ctx, false)
	return handle, nil
}

// Execute launches an instance and waits for it to settle. The returned
// instance can be inspected regardless of the outcome; the error is nil only
// when the instance completed.
func (e *Engine) Execute(ctx context.Context, definitionID string, input map[string]any) (*Instance, error) {
	handle, err := e.Launch(ctx, definitionID, input)
	if err != nil {
		return nil, err
	}
	err = handle.Wait(ctx)
	return handle.Instance(), err
}

// Handlers returns a stats entry per registered handler, sorted by ref.
func (e *Engine) Handlers() []HandlerInfo {
	refs := e.registry.Refs()
	out := make([]HandlerInfo, 0, len(refs))
	for _, ref := range refs {
		out = append(out, HandlerInfo{Ref: ref, Stats: e.statsFor(ref)})
	}
	return out
}

func (e *Engine) statsFor(ref string) *HandlerStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	stats, ok := e.stats[ref]
	if !ok {
		stats = newHandlerStats(ref)
		e.stats[ref] = stats
	}
	return stats
}

// InstanceHandle controls one launched instance. All methods are safe for
// concurrent use.
type InstanceHandle struct {
	engine   *Engine
	instance *Instance

	cancelOnce  sync.Once
	cancelCh    chan struct{}
	suspendOnce sync.Once
	suspendCh   chan struct{}

	done chan struct{}
	err  error

	snapMu    sync.Mutex
	finalSnap *Snapshot
}

func newInstanceHandle(e *Engine, in *Instance) *InstanceHandle {
	return &InstanceHandle{
		engine:    e,
		instance:  in,
		cancelCh:  make(chan struct{}),
		suspendCh: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the instance ID.
func (h *InstanceHandle) ID() string { return h.instance.id }

// Instance returns the underlying instance for inspection.
func (h *InstanceHandle) Instance() *Instance { return h.instance }

// Cancel requests cancellation: waiting and ready tasks are cancelled,
// running tasks drain with their results discarded. Idempotent; a no-op once
// the instance has settled.
func (h *InstanceHandle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelCh) })
}

// Suspend requests suspension: no further tasks are promoted, in-flight work
// drains and merges, and Wait returns ErrSuspended. Snapshot the instance
// afterwards to resume it later. Idempotent; a no-op once the instance has
// settled.
func (h *InstanceHandle) Suspend() {
	h.suspendOnce.Do(func() { close(h.suspendCh) })
}

// Done is closed once the instance has settled.
func (h *InstanceHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the instance settles or ctx expires. It returns nil for
// a completed instance, the first failure for a failed one, ErrCancelled
// after cancellation and ErrSuspended after suspension.
func (h *InstanceHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FinalSnapshot returns the snapshot captured at the terminal state when the
// engine runs with SnapshotOnFinish enabled.
func (h *InstanceHandle) FinalSnapshot() (Snapshot, bool) {
	h.snapMu.Lock()
	defer h.snapMu.Unlock()
	if h.finalSnap == nil {
		return Snapshot{}, false
	}
	return *h.finalSnap, true
}

func (h *InstanceHandle) storeFinalSnapshot(snap Snapshot) {
	h.snapMu.Lock()
	defer h.snapMu.Unlock()
	h.finalSnap = &snap
}

// settle publishes the outcome to waiters. Called exactly once by the run
// loop.
func (h *InstanceHandle) settle(err error) {
	h.err = err
	close(h.done)
}
