// Package procflow executes declarative process graphs: definitions describe
// nodes (start, end, task, gateway) connected by flows, and the engine walks
// each launched instance through them, dispatching task nodes to registered
// handlers with bounded concurrency. Definitions come from the programmatic
// builder or from YAML/JSON files via the loader package, and are fully
// validated before anything runs.
//
// A minimal setup registers handlers on a HandlerRegistry, constructs an
// Engine with NewEngine, registers one or more definitions, and calls Execute
// for a synchronous run or Launch for a handle with Cancel, Suspend and Wait;
// see README.md for a copy/paste quick start snippet.
//
// # Definitions
//
// Graphs support sequential flows, exclusive gateways routed by declared-order
// conditions (JSONPath lookups, JavaScript expressions or plain Go functions)
// with an optional default flow, and parallel split/join gateways that fan out
// branches and wait for every incoming flow to arrive. Validation reports all
// structural issues at once as a ValidationError.
//
// # Handlers
//
// A handler receives a read-only view of the instance data context plus task
// metadata and returns an output map that is merged into the context for
// downstream nodes. Handler results must survive JSON encoding; per-node or
// engine-wide timeouts bound each dispatch, and panics surface as
// HandlerExecutionError instead of crashing the instance.
//
// # Telemetry and hooks
//
// The engine opens one span per instance and one per task dispatch and
// reports them to the injected telemetry emitter: OpenTelemetry tracing and
// Prometheus metrics backends ship in telemetry/otel and telemetry/prometheus,
// and Multi fans out to several at once. TaskHooks provide OnTaskStart,
// OnTaskDone and OnTaskError callbacks for custom logging, metrics collection
// and alerting around handler execution, and per-handler dispatch statistics
// (counts, latency window, error breakdown) are available from
// Engine.Handlers.
//
// # Events
//
// With a Watermill publisher injected, every instance emits ordered lifecycle
// events (instance started/completed/failed/cancelled/stuck plus one event
// per task state change) on the configured topic, so external systems can
// follow progress without polling.
//
// # Snapshots
//
// Suspend drains in-flight work and leaves the instance in a self-contained
// state that Instance.Snapshot serializes; Engine.Restore and Engine.Resume
// rebuild and continue it later, on the same engine or another one holding
// the same definition.
package procflow
