package engine

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/procflow/internal/engine/logging"
)

// TaskContext provides information about a task execution to hooks.
type TaskContext struct {
	// InstanceID is the process instance the task belongs to.
	InstanceID string
	// DefinitionID is the process definition the instance runs.
	DefinitionID string
	// NodeID is the task node being executed.
	NodeID string
	// NodeName is the human-readable node name, if set.
	NodeName string
	// HandlerRef is the registry key of the handler invoked for the task.
	HandlerRef string
	// Context is the context the task ran under.
	Context context.Context
	// StartedAt is when the task started executing.
	StartedAt time.Time
	// Duration is how long the task took (only set in OnTaskDone and OnTaskError).
	Duration time.Duration
}

// TaskHooks defines callbacks for task lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type TaskHooks struct {
	// OnTaskStart is called when a task enters the running state,
	// before the handler is invoked.
	OnTaskStart func(ctx TaskContext)

	// OnTaskDone is called when a handler completes successfully.
	// Duration will be set to how long the handler took.
	OnTaskDone func(ctx TaskContext)

	// OnTaskError is called when a task fails, including timeouts and
	// recovered panics. Duration will be set to how long the handler
	// took before failing.
	OnTaskError func(ctx TaskContext, err error)
}

// Merge combines two TaskHooks, creating a new TaskHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h TaskHooks) Merge(other TaskHooks) TaskHooks {
	return TaskHooks{
		OnTaskStart: chainStartHooks(h.OnTaskStart, other.OnTaskStart),
		OnTaskDone:  chainDoneHooks(h.OnTaskDone, other.OnTaskDone),
		OnTaskError: chainErrorHooks(h.OnTaskError, other.OnTaskError),
	}
}

func chainStartHooks(a, b func(TaskContext)) func(TaskContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext) {
		a(ctx)
		b(ctx)
	}
}

func chainDoneHooks(a, b func(TaskContext)) func(TaskContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(TaskContext, error)) func(TaskContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log task lifecycle events.
func LoggingHooks(logger loggingpkg.Logger) TaskHooks {
	return TaskHooks{
		OnTaskStart: func(ctx TaskContext) {
			logger.Info("Task started", loggingpkg.LogFields{
				"instance_id": ctx.InstanceID,
				"node_id":     ctx.NodeID,
				"handler":     ctx.HandlerRef,
			})
		},
		OnTaskDone: func(ctx TaskContext) {
			logger.Info("Task completed", loggingpkg.LogFields{
				"instance_id": ctx.InstanceID,
				"node_id":     ctx.NodeID,
				"handler":     ctx.HandlerRef,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnTaskError: func(ctx TaskContext, err error) {
			logger.Error("Task failed", err, loggingpkg.LogFields{
				"instance_id": ctx.InstanceID,
				"node_id":     ctx.NodeID,
				"handler":     ctx.HandlerRef,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that record task counts.
func MetricsHooks(onStart, onDone, onError func(handlerRef, nodeID string)) TaskHooks {
	return TaskHooks{
		OnTaskStart: func(ctx TaskContext) {
			if onStart != nil {
				onStart(ctx.HandlerRef, ctx.NodeID)
			}
		},
		OnTaskDone: func(ctx TaskContext) {
			if onDone != nil {
				onDone(ctx.HandlerRef, ctx.NodeID)
			}
		},
		OnTaskError: func(ctx TaskContext, err error) {
			if onError != nil {
				onError(ctx.HandlerRef, ctx.NodeID)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on task errors.
func AlertingHooks(alertFunc func(ctx TaskContext, err error)) TaskHooks {
	return TaskHooks{
		OnTaskError: alertFunc,
	}
}
