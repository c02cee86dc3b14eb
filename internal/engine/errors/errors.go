// Package errors defines the sentinel and typed errors surfaced by the
// procflow engine. Dispatch-time failures carry the node they occurred on so
// callers can correlate them with task records and spans.
package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEngineRequired      = sterrors.New("procflow: engine is required")
	ErrRegistryRequired    = sterrors.New("procflow: handler registry is required")
	ErrDefinitionRequired  = sterrors.New("procflow: process definition is required")
	ErrHandlerRefRequired  = sterrors.New("procflow: handler ref is required")
	ErrNilHandler          = sterrors.New("procflow: handler is required")
	ErrDuplicateHandler    = sterrors.New("procflow: handler ref already registered")
	ErrUnknownDefinition   = sterrors.New("procflow: definition is not registered")
	ErrDuplicateDefinition = sterrors.New("procflow: definition ID already registered")
	ErrInstanceTerminal    = sterrors.New("procflow: instance already reached a terminal state")
	ErrNotResumable        = sterrors.New("procflow: snapshot is not resumable")
	ErrSnapshotMismatch    = sterrors.New("procflow: snapshot does not match definition")
	ErrSuspended           = sterrors.New("procflow: instance suspended")
	ErrCancelled           = sterrors.New("procflow: instance cancelled")
)

// NoHandlerError reports a task node whose handler ref has no registration.
type NoHandlerError struct {
	NodeID     string
	HandlerRef string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("procflow: no handler registered for ref %q (node %q)", e.HandlerRef, e.NodeID)
}

// HandlerExecutionError wraps an error (or recovered panic) returned by a
// handler during dispatch.
type HandlerExecutionError struct {
	NodeID     string
	HandlerRef string
	Err        error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("procflow: handler %q failed on node %q: %v", e.HandlerRef, e.NodeID, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// TimeoutError reports a dispatch that exceeded its allotted timeout. The
// handler itself is not interrupted; only the engine stops waiting for it.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("procflow: node %q timed out after %s", e.NodeID, e.Timeout)
}

// NoMatchingBranchError reports an exclusive gateway whose outgoing flows all
// evaluated false with no default flow to fall back on.
type NoMatchingBranchError struct {
	GatewayID string
}

func (e *NoMatchingBranchError) Error() string {
	return fmt.Sprintf("procflow: no matching branch at exclusive gateway %q", e.GatewayID)
}

// ConditionError wraps a predicate evaluation failure on a specific flow.
type ConditionError struct {
	FlowID string
	Err    error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("procflow: condition on flow %q failed: %v", e.FlowID, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// StuckError reports a deadlocked instance: no task is ready, nothing is
// running, and the listed tasks are still waiting on predecessors that can
// never complete.
type StuckError struct {
	InstanceID string
	Waiting    []string
}

func (e *StuckError) Error() string {
	if len(e.Waiting) == 0 {
		return fmt.Sprintf("procflow: instance %q cannot make progress", e.InstanceID)
	}
	return fmt.Sprintf("procflow: instance %q cannot make progress; waiting tasks: %s",
		e.InstanceID, strings.Join(e.Waiting, ", "))
}
