package engine

import (
	"sync"
	"time"

	"github.com/drblury/procflow/internal/engine/definition"
	"github.com/drblury/procflow/internal/engine/ids"
	"github.com/drblury/procflow/internal/engine/jsoncodec"
)

// TaskState is the lifecycle state of a single task record. States only ever
// move forward: Future -> Waiting -> Ready -> Running -> terminal.
type TaskState string

const (
	// TaskFuture means no incoming flow has been activated yet.
	TaskFuture TaskState = "future"
	// TaskWaiting means at least one incoming flow is activated but the join
	// condition is not satisfied yet.
	TaskWaiting TaskState = "waiting"
	// TaskReady means the task is eligible for dispatch.
	TaskReady TaskState = "ready"
	// TaskRunning means a handler invocation is in flight.
	TaskRunning TaskState = "running"

	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

var allowedTransitions = map[TaskState][]TaskState{
	TaskFuture:  {TaskWaiting, TaskCancelled},
	TaskWaiting: {TaskReady, TaskCancelled},
	TaskReady:   {TaskRunning, TaskCancelled},
	TaskRunning: {TaskCompleted, TaskFailed, TaskCancelled},
}

func transitionAllowed(from, to TaskState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InstanceStatus is the overall state of a process instance.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "running"
	InstanceCompleted InstanceStatus = "completed"
	InstanceFailed    InstanceStatus = "failed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted || s == InstanceFailed || s == InstanceCancelled
}

// TaskRecord tracks one node's execution within an instance.
type TaskRecord struct {
	NodeID    string    `json:"node_id"`
	State     TaskState `json:"state"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Err       error     `json:"-"`
}

// Instance is the runtime state of one process execution. The scheduler is
// the only writer; the exported accessors take the instance lock so state can
// be inspected while the instance runs.
type Instance struct {
	mu sync.Mutex

	id      string
	graph   *definition.Graph
	data    map[string]any
	records map[string]*TaskRecord

	// arrivals tracks, per node, which incoming flows have been activated.
	// Parallel joins become ready when the full incoming set has arrived.
	arrivals map[string]map[string]bool

	status    InstanceStatus
	lastErr   error
	startedAt time.Time
	endedAt   time.Time

	eventSeq uint64
}

func newInstance(graph *definition.Graph, input map[string]any) (*Instance, error) {
	data, err := jsoncodec.DeepCopyMap(input)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		id:        ids.NewInstanceID(),
		graph:     graph,
		data:      data,
		records:   make(map[string]*TaskRecord, len(graph.NodeIDs())),
		arrivals:  make(map[string]map[string]bool),
		status:    InstanceRunning,
		startedAt: time.Now().UTC(),
	}
	for _, nodeID := range graph.NodeIDs() {
		inst.records[nodeID] = &TaskRecord{NodeID: nodeID, State: TaskFuture}
	}
	return inst, nil
}

// ID returns the instance ID.
func (in *Instance) ID() string { return in.id }

// DefinitionID returns the ID of the definition this instance runs.
func (in *Instance) DefinitionID() string { return in.graph.Definition().ID }

// Status returns the current instance status.
func (in *Instance) Status() InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// LastErr returns the error that failed or cancelled the instance, nil while
// it is running or after it completed.
func (in *Instance) LastErr() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastErr
}

// Record returns a copy of the task record for nodeID.
func (in *Instance) Record(nodeID string) (TaskRecord, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	rec, ok := in.records[nodeID]
	if !ok {
		return TaskRecord{}, false
	}
	return *rec, true
}

// Records returns copies of all task records in definition node order.
func (in *Instance) Records() []TaskRecord {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]TaskRecord, 0, len(in.records))
	for _, nodeID := range in.graph.NodeIDs() {
		if rec, ok := in.records[nodeID]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// DataContext returns a deep copy of the instance data context.
func (in *Instance) DataContext() map[string]any {
	in.mu.Lock()
	defer in.mu.Unlock()
	copied, err := jsoncodec.DeepCopyMap(in.data)
	if err != nil {
		// The context was built from JSON round trips, so it re-encodes.
		return map[string]any{}
	}
	return copied
}

// StartedAt returns when the instance was launched.
func (in *Instance) StartedAt() time.Time { return in.startedAt }

// EndedAt returns when the instance reached a terminal state, zero before.
func (in *Instance) EndedAt() time.Time {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.endedAt
}

// view builds a read-only copy of the data context for a handler. Must be
// called with the lock held.
func (in *Instance) viewLocked() (ContextView, error) {
	copied, err := jsoncodec.DeepCopyMap(in.data)
	if err != nil {
		return ContextView{}, err
	}
	return newContextView(copied), nil
}

// mergeLocked applies a handler result to the data context. Last writer wins
// across parallel branches; arbitrating concurrent writes to the same key is
// the definition author's responsibility, not the engine's.
func (in *Instance) mergeLocked(result map[string]any) {
	for k, v := range result {
		in.data[k] = v
	}
}

// nextSeqLocked returns the next event sequence number.
func (in *Instance) nextSeqLocked() uint64 {
	in.eventSeq++
	return in.eventSeq
}

func (in *Instance) view() (ContextView, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.viewLocked()
}

func (in *Instance) merge(result map[string]any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.mergeLocked(result)
}

func (in *Instance) state(nodeID string) TaskState {
	in.mu.Lock()
	defer in.mu.Unlock()
	if rec, ok := in.records[nodeID]; ok {
		return rec.State
	}
	return ""
}

// recordArrival notes that flowID delivered an activation to nodeID and
// returns the record state at that moment. An empty flowID records nothing;
// it is used for the start activation, which has no incoming flow.
func (in *Instance) recordArrival(nodeID, flowID string) TaskState {
	in.mu.Lock()
	defer in.mu.Unlock()
	rec, ok := in.records[nodeID]
	if !ok {
		return ""
	}
	if flowID != "" {
		set := in.arrivals[nodeID]
		if set == nil {
			set = make(map[string]bool)
			in.arrivals[nodeID] = set
		}
		set[flowID] = true
	}
	return rec.State
}

func (in *Instance) arrivalCount(nodeID string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.arrivals[nodeID])
}

// setFailure records the first failure; later failures keep the original.
func (in *Instance) setFailure(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.lastErr == nil {
		in.lastErr = err
	}
}

// waitingNodes returns the IDs of all records still waiting, in definition
// node order.
func (in *Instance) waitingNodes() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	var out []string
	for _, nodeID := range in.graph.NodeIDs() {
		if rec, ok := in.records[nodeID]; ok && rec.State == TaskWaiting {
			out = append(out, nodeID)
		}
	}
	return out
}

// finish moves the instance to its terminal status.
func (in *Instance) finish(status InstanceStatus, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.status = status
	in.lastErr = err
	if status.Terminal() {
		in.endedAt = time.Now().UTC()
	}
}
