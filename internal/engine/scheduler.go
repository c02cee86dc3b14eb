package engine

import (
	"context"
	"time"

	"github.com/drblury/procflow/internal/engine/definition"
	errspkg "github.com/drblury/procflow/internal/engine/errors"
	"github.com/drblury/procflow/internal/engine/ids"
	loggingpkg "github.com/drblury/procflow/internal/engine/logging"
	"github.com/drblury/procflow/telemetry"
)

// scheduler advances one instance through its graph. All graph bookkeeping
// happens on the run loop goroutine; task handlers execute on worker
// goroutines and report back through the results channel.
//
// Activation rules:
//   - Start nodes, task nodes and parallel splits activate every outgoing
//     flow. Multiple outgoing flows on a plain node fork implicitly.
//   - Exclusive gateways activate exactly one outgoing flow: the first flow
//     in declared order whose condition holds, the default flow otherwise.
//   - Parallel joins leave the waiting state only once every incoming flow
//     has delivered an activation, and fire exactly once per instance.
//   - A node that already left the waiting state ignores further
//     activations, so each node runs at most once per instance.
type scheduler struct {
	engine *Engine
	handle *InstanceHandle
	graph  *definition.Graph
	inst   *Instance

	results chan taskResult
	sem     chan struct{}
	queue   []string

	inFlight   int
	failing    bool
	suspending bool
	cancelled  bool
	endReached bool

	runCancel context.CancelFunc
}

func newScheduler(e *Engine, handle *InstanceHandle) *scheduler {
	slots := e.Conf.MaxConcurrentTasks
	return &scheduler{
		engine:  e,
		handle:  handle,
		graph:   handle.instance.graph,
		inst:    handle.instance,
		results: make(chan taskResult, slots),
		sem:     make(chan struct{}, slots),
	}
}

// run drives the instance to a settled state: terminal, or drained for
// suspension. It is the only goroutine that mutates scheduler fields.
func (s *scheduler) run(ctx context.Context, resume bool) {
	e := s.engine

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	defer cancel()

	spanCtx, span := e.emitter.StartSpan(runCtx, telemetry.SpanInstance, telemetry.New(
		telemetry.AttrInstanceID, s.inst.id,
		telemetry.AttrDefinitionID, s.inst.DefinitionID(),
	))

	if resume {
		e.Logger.Info("Instance resumed", s.logFields())
		s.restoreProgress(spanCtx)
	} else {
		e.Logger.Info("Instance started", s.logFields())
		s.instanceEvent(spanCtx, EventInstanceStarted, nil)
		s.enter(spanCtx, s.graph.Start().ID, "")
	}

	cancelCh := s.handle.cancelCh
	suspendCh := s.handle.suspendCh
	ctxDone := ctx.Done()

	for {
		s.drainQueue(spanCtx)
		if s.inFlight == 0 {
			s.pollCancellation(ctx, spanCtx)
			break
		}

		select {
		case res := <-s.results:
			s.completeTask(spanCtx, res)
		case <-cancelCh:
			cancelCh = nil
			s.markCancelled(spanCtx)
		case <-ctxDone:
			ctxDone = nil
			s.markCancelled(spanCtx)
		case <-suspendCh:
			suspendCh = nil
			s.markSuspending()
		}
	}

	finalErr := s.finalize(spanCtx, span)
	s.handle.settle(finalErr)
}

// drainQueue fires every node currently in the ready queue. Instant nodes
// (start, end, gateways) complete synchronously and may push more work onto
// the queue; task nodes go to worker goroutines.
func (s *scheduler) drainQueue(ctx context.Context) {
	for len(s.queue) > 0 {
		nodeID := s.queue[0]
		s.queue = s.queue[1:]

		if s.cancelled {
			continue
		}
		node, ok := s.graph.Node(nodeID)
		if !ok {
			continue
		}
		if node.Kind == definition.KindTask {
			s.dispatch(ctx, nodeID)
			continue
		}
		s.fireInstant(ctx, node)
	}
}

func (s *scheduler) fireInstant(ctx context.Context, node definition.Node) {
	s.transition(ctx, node.ID, TaskRunning, nil)

	switch node.Kind {
	case definition.KindStart:
		s.transition(ctx, node.ID, TaskCompleted, nil)
		if !s.failing {
			s.activateOutgoing(ctx, node.ID)
		}
	case definition.KindEnd:
		s.endReached = true
		s.transition(ctx, node.ID, TaskCompleted, nil)
	case definition.KindGateway:
		s.fireGateway(ctx, node)
	}
}

func (s *scheduler) fireGateway(ctx context.Context, node definition.Node) {
	switch node.Gateway {
	case definition.GatewayExclusive:
		flow, err := s.resolveExclusive(node)
		if err != nil {
			s.transition(ctx, node.ID, TaskFailed, err)
			s.fail(err)
			return
		}
		s.transition(ctx, node.ID, TaskCompleted, nil)
		if !s.failing {
			s.enter(ctx, flow.Target, flow.ID)
		}
	default:
		// Parallel splits fan out to every outgoing flow; a join that fires
		// forwards its single token the same way.
		s.transition(ctx, node.ID, TaskCompleted, nil)
		if !s.failing {
			s.activateOutgoing(ctx, node.ID)
		}
	}
}

// resolveExclusive picks the one outgoing flow an exclusive gateway routes
// to. Conditions are evaluated in declared flow order against a copy of the
// data context; the default flow is the fallback and its own condition, if
// any, is never evaluated.
func (s *scheduler) resolveExclusive(node definition.Node) (definition.Flow, error) {
	flows := s.graph.Outgoing(node.ID)
	data := s.inst.DataContext()

	var fallback *definition.Flow
	for i := range flows {
		flow := flows[i]
		if flow.Default {
			if fallback == nil {
				fallback = &flows[i]
			}
			continue
		}
		if flow.Condition == nil {
			return flow, nil
		}
		matched, err := flow.Condition.Evaluate(data)
		if err != nil {
			return definition.Flow{}, &errspkg.ConditionError{FlowID: flow.ID, Err: err}
		}
		if matched {
			return flow, nil
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return definition.Flow{}, &errspkg.NoMatchingBranchError{GatewayID: node.ID}
}

// activateOutgoing delivers an activation along every outgoing flow.
func (s *scheduler) activateOutgoing(ctx context.Context, nodeID string) {
	for _, flow := range s.graph.Outgoing(nodeID) {
		s.enter(ctx, flow.Target, flow.ID)
	}
}

// enter delivers one activation to a node: the arrival is recorded, a future
// record moves to waiting, and the node is promoted if it is ready to fire.
// Activations of nodes that already advanced past waiting are dropped.
func (s *scheduler) enter(ctx context.Context, nodeID, flowID string) {
	state := s.inst.recordArrival(nodeID, flowID)
	switch state {
	case TaskFuture:
		s.transition(ctx, nodeID, TaskWaiting, nil)
	case TaskWaiting:
		// Another incoming flow arrived earlier; fall through to the
		// promotion check.
	default:
		s.engine.Logger.Debug("Dropping activation of advanced node", s.logFields(
			loggingpkg.LogFields{"node_id": nodeID, "state": string(state)},
		))
		return
	}
	s.promote(ctx, nodeID)
}

// promote moves a waiting node to ready and queues it for firing. Promotion
// stops while the instance is failing, suspending or cancelled; waiting
// records then keep their state for the finalizer or the snapshot.
func (s *scheduler) promote(ctx context.Context, nodeID string) {
	if s.failing || s.suspending || s.cancelled {
		return
	}
	if !s.readyToFire(nodeID) {
		return
	}
	if !s.transition(ctx, nodeID, TaskReady, nil) {
		return
	}
	s.queue = append(s.queue, nodeID)
}

// readyToFire reports whether a waiting node may become ready. Parallel
// joins wait for the full incoming flow set; every other node fires on its
// first activation.
func (s *scheduler) readyToFire(nodeID string) bool {
	node, ok := s.graph.Node(nodeID)
	if !ok {
		return false
	}
	if node.Kind == definition.KindGateway && node.Gateway == definition.GatewayParallelJoin {
		return s.inst.arrivalCount(nodeID) >= len(s.graph.Incoming(nodeID))
	}
	return true
}

// completeTask folds a finished dispatch back into the instance.
func (s *scheduler) completeTask(ctx context.Context, res taskResult) {
	s.inFlight--

	if res.notStarted {
		// The record was already moved to cancelled before the handler ran.
		return
	}
	if s.cancelled {
		// Results arriving after cancellation are discarded.
		s.transition(ctx, res.nodeID, TaskCancelled, errspkg.ErrCancelled)
		return
	}
	if res.err != nil {
		s.transition(ctx, res.nodeID, TaskFailed, res.err)
		s.fail(res.err)
		return
	}

	s.inst.merge(res.output)
	if s.engine.Conf.LogDataContext {
		s.engine.Logger.Debug("Data context updated", s.logFields(loggingpkg.LogFields{
			"node_id": res.nodeID,
			"data":    s.inst.DataContext(),
		}))
	}
	s.transition(ctx, res.nodeID, TaskCompleted, nil)
	if !s.failing {
		s.activateOutgoing(ctx, res.nodeID)
	}
}

// fail records the first failure and stops further activations. Tasks that
// are already ready or running drain normally.
func (s *scheduler) fail(err error) {
	if s.failing || s.cancelled {
		return
	}
	s.failing = true
	s.inst.setFailure(err)
	s.engine.Logger.Error("Instance failing", err, s.logFields())
}

// markCancelled moves every waiting and ready record to cancelled and lets
// running tasks drain. Future records are left untouched: they were never
// activated. The run context is cancelled so cooperative handlers return
// early.
func (s *scheduler) markCancelled(ctx context.Context) {
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.queue = nil
	s.runCancel()

	for _, nodeID := range s.graph.NodeIDs() {
		switch s.inst.state(nodeID) {
		case TaskWaiting, TaskReady:
			s.transition(ctx, nodeID, TaskCancelled, errspkg.ErrCancelled)
		}
	}
	s.engine.Logger.Info("Instance cancelling", s.logFields())
}

// pollCancellation catches a cancellation that raced the final drain.
// Workers watching the run context can abort their dispatch before the loop
// has processed the signal; without this check their records would settle as
// ready instead of cancelled.
func (s *scheduler) pollCancellation(ctx, spanCtx context.Context) {
	select {
	case <-s.handle.cancelCh:
		s.markCancelled(spanCtx)
		return
	default:
	}
	select {
	case <-ctx.Done():
		s.markCancelled(spanCtx)
	default:
	}
}

// markSuspending stops promotions so the instance drains to a state that is
// fully captured by records and arrivals. Ready and running tasks finish
// first; their results still merge.
func (s *scheduler) markSuspending() {
	if s.suspending || s.cancelled {
		return
	}
	s.suspending = true
	s.engine.Logger.Info("Instance suspending", s.logFields())
}

// restoreProgress re-promotes the waiting records of a restored instance and
// recovers the end marker from completed end nodes.
func (s *scheduler) restoreProgress(ctx context.Context) {
	for _, nodeID := range s.graph.NodeIDs() {
		node, ok := s.graph.Node(nodeID)
		if !ok {
			continue
		}
		state := s.inst.state(nodeID)
		if node.Kind == definition.KindEnd && state == TaskCompleted {
			s.endReached = true
		}
		if state == TaskWaiting {
			s.promote(ctx, nodeID)
		}
	}
}

// finalize settles the instance once the loop has drained and returns the
// error the handle reports to waiters.
func (s *scheduler) finalize(ctx context.Context, span telemetry.Span) error {
	e := s.engine

	var status InstanceStatus
	var finalErr error

	switch {
	case s.cancelled:
		status = InstanceCancelled
		finalErr = errspkg.ErrCancelled
	case s.failing:
		// Anything still waiting or never reached will not run anymore.
		for _, nodeID := range s.graph.NodeIDs() {
			switch s.inst.state(nodeID) {
			case TaskWaiting, TaskFuture:
				s.transition(ctx, nodeID, TaskCancelled, errspkg.ErrCancelled)
			}
		}
		status = InstanceFailed
		finalErr = s.inst.LastErr()
	case s.suspending:
		e.Logger.Info("Instance suspended", s.logFields())
		span.End(telemetry.StatusOK, nil)
		return errspkg.ErrSuspended
	default:
		waiting := s.inst.waitingNodes()
		if s.endReached && len(waiting) == 0 {
			status = InstanceCompleted
		} else {
			// Waiting records keep their state so the stall is diagnosable.
			status = InstanceFailed
			finalErr = &errspkg.StuckError{InstanceID: s.inst.id, Waiting: waiting}
		}
	}

	s.inst.finish(status, finalErr)
	if e.Conf.SnapshotOnFinish {
		s.handle.storeFinalSnapshot(s.inst.Snapshot())
	}
	s.instanceEvent(ctx, instanceEventType(status, finalErr), finalErr)

	fields := s.logFields(loggingpkg.LogFields{"status": string(status)})
	switch status {
	case InstanceCompleted:
		e.Logger.Info("Instance completed", fields)
		span.End(telemetry.StatusOK, nil)
		return nil
	case InstanceCancelled:
		e.Logger.Info("Instance cancelled", fields)
		span.End(telemetry.StatusCancelled, finalErr)
	default:
		e.Logger.Error("Instance failed", finalErr, fields)
		span.End(telemetry.StatusError, finalErr)
	}
	return finalErr
}

// transition applies one task state change, assigns the event sequence
// number under the instance lock and publishes the change afterwards. It
// reports whether the transition was applied; disallowed transitions are
// dropped. Safe to call from worker goroutines.
func (s *scheduler) transition(ctx context.Context, nodeID string, to TaskState, cause error) bool {
	in := s.inst

	in.mu.Lock()
	rec, ok := in.records[nodeID]
	if !ok || !transitionAllowed(rec.State, to) {
		in.mu.Unlock()
		return false
	}
	from := rec.State
	rec.State = to
	now := time.Now().UTC()
	if to == TaskRunning && rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if to.Terminal() {
		rec.Err = cause
		if rec.EndedAt.IsZero() {
			rec.EndedAt = now
		}
	}
	event := Event{
		ID:           ids.NewEventID(),
		Type:         EventTaskState,
		InstanceID:   in.id,
		DefinitionID: in.graph.Definition().ID,
		NodeID:       nodeID,
		From:         from,
		To:           to,
		Seq:          in.nextSeqLocked(),
		At:           now,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	in.mu.Unlock()

	s.engine.publishEvent(ctx, event)
	return true
}

// instanceEvent publishes an instance-level event with the next sequence
// number.
func (s *scheduler) instanceEvent(ctx context.Context, eventType string, cause error) {
	if eventType == "" {
		return
	}
	in := s.inst

	in.mu.Lock()
	event := Event{
		ID:           ids.NewEventID(),
		Type:         eventType,
		InstanceID:   in.id,
		DefinitionID: in.graph.Definition().ID,
		Seq:          in.nextSeqLocked(),
		At:           time.Now().UTC(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	in.mu.Unlock()

	s.engine.publishEvent(ctx, event)
}

func (s *scheduler) logFields(extra ...loggingpkg.LogFields) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"instance_id":   s.inst.id,
		"definition_id": s.inst.DefinitionID(),
	}
	for _, set := range extra {
		for k, v := range set {
			fields[k] = v
		}
	}
	return fields
}
