package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drblury/procflow/internal/engine/definition"
	errspkg "github.com/drblury/procflow/internal/engine/errors"
	"github.com/drblury/procflow/internal/engine/jsoncodec"
	loggingpkg "github.com/drblury/procflow/internal/engine/logging"
	"github.com/drblury/procflow/telemetry"
)

// taskResult carries the outcome of one task dispatch back to the scheduler
// loop. notStarted marks dispatches that were aborted before the handler ran,
// either by cancellation while waiting for a slot or by losing the race
// against a concurrent state change.
type taskResult struct {
	nodeID     string
	output     map[string]any
	err        error
	started    time.Time
	ended      time.Time
	notStarted bool
}

type handlerResult struct {
	output map[string]any
	err    error
}

// dispatch launches one task execution. The scheduler loop keeps running
// while the handler executes; the result comes back on s.results.
func (s *scheduler) dispatch(ctx context.Context, nodeID string) {
	s.inFlight++
	go func() {
		s.results <- s.executeTask(ctx, nodeID)
	}()
}

// executeTask runs the handler for one task node. It acquires a concurrency
// slot, moves the record to running, invokes the handler with the configured
// timeout and reports the outcome to telemetry, hooks and stats.
func (s *scheduler) executeTask(ctx context.Context, nodeID string) taskResult {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return taskResult{nodeID: nodeID, notStarted: true}
	}
	defer func() { <-s.sem }()

	node, ok := s.graph.Node(nodeID)
	if !ok {
		return taskResult{nodeID: nodeID, notStarted: true}
	}

	// Losing this transition means cancellation got to the record first.
	if !s.transition(ctx, nodeID, TaskRunning, nil) {
		return taskResult{nodeID: nodeID, notStarted: true}
	}

	e := s.engine
	started := time.Now().UTC()

	view, err := s.inst.view()
	if err != nil {
		err = fmt.Errorf("failed to copy data context: %w", err)
		return taskResult{nodeID: nodeID, err: err, started: started, ended: time.Now().UTC()}
	}

	meta := TaskMeta{
		InstanceID:   s.inst.id,
		DefinitionID: s.inst.DefinitionID(),
		NodeID:       node.ID,
		NodeName:     node.Name,
		HandlerRef:   node.HandlerRef,
		StartedAt:    started,
	}
	taskCtx := TaskContext{
		InstanceID:   meta.InstanceID,
		DefinitionID: meta.DefinitionID,
		NodeID:       meta.NodeID,
		NodeName:     meta.NodeName,
		HandlerRef:   meta.HandlerRef,
		Context:      ctx,
		StartedAt:    started,
	}
	if e.hooks.OnTaskStart != nil {
		e.hooks.OnTaskStart(taskCtx)
	}

	spanCtx, span := e.emitter.StartSpan(ctx, telemetry.SpanTask, telemetry.New(
		telemetry.AttrInstanceID, meta.InstanceID,
		telemetry.AttrDefinitionID, meta.DefinitionID,
		telemetry.AttrNodeID, meta.NodeID,
		telemetry.AttrNodeName, meta.NodeName,
		telemetry.AttrHandlerRef, meta.HandlerRef,
	))

	output, err := s.invokeHandler(spanCtx, node, view, meta)

	ended := time.Now().UTC()
	duration := ended.Sub(started)
	taskCtx.Duration = duration

	span.SetAttributes(telemetry.Attributes{
		telemetry.AttrDurationMS: duration.Milliseconds(),
		telemetry.AttrSuccess:    err == nil,
	})
	switch {
	case err == nil:
		span.End(telemetry.StatusOK, nil)
		if e.hooks.OnTaskDone != nil {
			e.hooks.OnTaskDone(taskCtx)
		}
	case errors.Is(err, context.Canceled):
		span.End(telemetry.StatusCancelled, err)
		if e.hooks.OnTaskError != nil {
			e.hooks.OnTaskError(taskCtx, err)
		}
	default:
		span.End(telemetry.StatusError, err)
		if e.hooks.OnTaskError != nil {
			e.hooks.OnTaskError(taskCtx, err)
		}
	}

	return taskResult{
		nodeID:  nodeID,
		output:  output,
		err:     err,
		started: started,
		ended:   ended,
	}
}

// invokeHandler looks up and runs the handler, enforcing the task timeout and
// recovering panics. The returned output is already decoupled from the
// handler's own map.
func (s *scheduler) invokeHandler(ctx context.Context, node definition.Node, view ContextView, meta TaskMeta) (map[string]any, error) {
	e := s.engine

	handler, found := e.registry.Lookup(node.HandlerRef)
	if !found {
		return nil, &errspkg.NoHandlerError{NodeID: node.ID, HandlerRef: node.HandlerRef}
	}

	timeout := node.Timeout
	if timeout <= 0 {
		timeout = e.Conf.DefaultTaskTimeout
	}
	handlerCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resCh := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.Logger.Error("Handler panicked", fmt.Errorf("%v", r), loggingpkg.LogFields{
					"instance_id": meta.InstanceID,
					"node_id":     meta.NodeID,
					"handler":     meta.HandlerRef,
				})
				resCh <- handlerResult{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		output, err := handler.Execute(handlerCtx, view, meta)
		resCh <- handlerResult{output: output, err: err}
	}()

	var output map[string]any
	var err error
	select {
	case res := <-resCh:
		output = res.output
		if res.err != nil {
			err = &errspkg.HandlerExecutionError{NodeID: node.ID, HandlerRef: node.HandlerRef, Err: res.err}
		}
	case <-handlerCtx.Done():
		// The handler goroutine keeps running until it returns on its own;
		// the buffered channel means it never leaks.
		if timeout > 0 && errors.Is(handlerCtx.Err(), context.DeadlineExceeded) {
			err = &errspkg.TimeoutError{NodeID: node.ID, Timeout: timeout}
		} else {
			err = handlerCtx.Err()
		}
	}

	if err == nil {
		output, err = jsoncodec.DeepCopyMap(output)
		if err != nil {
			err = &errspkg.HandlerExecutionError{
				NodeID:     node.ID,
				HandlerRef: node.HandlerRef,
				Err:        fmt.Errorf("result is not JSON-encodable: %w", err),
			}
			output = nil
		}
	}

	e.statsFor(node.HandlerRef).recordDispatch(time.Since(meta.StartedAt), err)

	return output, err
}
