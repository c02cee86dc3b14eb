package engine

import (
	"context"
	sterrors "errors"
	"fmt"
	"sort"
	"time"

	errspkg "github.com/drblury/procflow/internal/engine/errors"
	"github.com/drblury/procflow/internal/engine/jsoncodec"
)

// Snapshot is the serializable state of an instance. A snapshot taken after
// Suspend drained the instance contains only waiting, terminal and future
// records, which is exactly the shape Resume accepts.
type Snapshot struct {
	InstanceID   string              `json:"instance_id"`
	DefinitionID string              `json:"definition_id"`
	Status       InstanceStatus      `json:"status"`
	DataContext  map[string]any      `json:"data_context"`
	Records      []TaskSnapshot      `json:"records"`
	Arrivals     map[string][]string `json:"arrivals,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
	EventSeq     uint64              `json:"event_seq"`
	StartedAt    time.Time           `json:"started_at"`
	EndedAt      time.Time           `json:"ended_at"`
}

// TaskSnapshot is the serializable form of one task record.
type TaskSnapshot struct {
	NodeID    string    `json:"node_id"`
	State     TaskState `json:"state"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Error     string    `json:"error,omitempty"`
}

// Snapshot captures the current instance state. It can be taken at any time;
// only snapshots without ready or running records can be resumed later.
func (in *Instance) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()

	snap := Snapshot{
		InstanceID:   in.id,
		DefinitionID: in.graph.Definition().ID,
		Status:       in.status,
		Records:      make([]TaskSnapshot, 0, len(in.records)),
		EventSeq:     in.eventSeq,
		StartedAt:    in.startedAt,
		EndedAt:      in.endedAt,
	}

	data, err := jsoncodec.DeepCopyMap(in.data)
	if err != nil {
		data = map[string]any{}
	}
	snap.DataContext = data

	if in.lastErr != nil {
		snap.LastError = in.lastErr.Error()
	}

	for _, nodeID := range in.graph.NodeIDs() {
		rec, ok := in.records[nodeID]
		if !ok {
			continue
		}
		task := TaskSnapshot{
			NodeID:    nodeID,
			State:     rec.State,
			StartedAt: rec.StartedAt,
			EndedAt:   rec.EndedAt,
		}
		if rec.Err != nil {
			task.Error = rec.Err.Error()
		}
		snap.Records = append(snap.Records, task)
	}

	if len(in.arrivals) > 0 {
		snap.Arrivals = make(map[string][]string, len(in.arrivals))
		for nodeID, set := range in.arrivals {
			flows := make([]string, 0, len(set))
			for flowID := range set {
				flows = append(flows, flowID)
			}
			sort.Strings(flows)
			snap.Arrivals[nodeID] = flows
		}
	}
	return snap
}

// Encode serializes the snapshot to JSON.
func (s Snapshot) Encode() ([]byte, error) {
	return jsoncodec.Marshal(s)
}

// DecodeSnapshot parses a snapshot produced by Encode.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := jsoncodec.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Restore rebuilds an instance from a snapshot. The snapshot's definition
// must be registered on the engine and every record must belong to that
// definition. The restored instance is inert; use Resume to continue it.
func (e *Engine) Restore(snap Snapshot) (*Instance, error) {
	graph, ok := e.lookupDefinition(snap.DefinitionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownDefinition, snap.DefinitionID)
	}

	data, err := jsoncodec.DeepCopyMap(snap.DataContext)
	if err != nil {
		return nil, fmt.Errorf("failed to copy snapshot data context: %w", err)
	}

	in := &Instance{
		id:        snap.InstanceID,
		graph:     graph,
		data:      data,
		records:   make(map[string]*TaskRecord, len(graph.NodeIDs())),
		arrivals:  make(map[string]map[string]bool),
		status:    snap.Status,
		eventSeq:  snap.EventSeq,
		startedAt: snap.StartedAt,
		endedAt:   snap.EndedAt,
	}
	if in.status == "" {
		in.status = InstanceRunning
	}
	if snap.LastError != "" {
		in.lastErr = sterrors.New(snap.LastError)
	}

	for _, nodeID := range graph.NodeIDs() {
		in.records[nodeID] = &TaskRecord{NodeID: nodeID, State: TaskFuture}
	}
	for _, task := range snap.Records {
		rec, ok := in.records[task.NodeID]
		if !ok {
			return nil, fmt.Errorf("%w: record %q is not in definition %q",
				errspkg.ErrSnapshotMismatch, task.NodeID, snap.DefinitionID)
		}
		if !validTaskState(task.State) {
			return nil, fmt.Errorf("%w: record %q has unknown state %q",
				errspkg.ErrSnapshotMismatch, task.NodeID, task.State)
		}
		rec.State = task.State
		rec.StartedAt = task.StartedAt
		rec.EndedAt = task.EndedAt
		if task.Error != "" {
			rec.Err = sterrors.New(task.Error)
		}
	}

	for nodeID, flows := range snap.Arrivals {
		if _, ok := in.records[nodeID]; !ok {
			return nil, fmt.Errorf("%w: arrival target %q is not in definition %q",
				errspkg.ErrSnapshotMismatch, nodeID, snap.DefinitionID)
		}
		set := make(map[string]bool, len(flows))
		for _, flowID := range flows {
			set[flowID] = true
		}
		in.arrivals[nodeID] = set
	}
	return in, nil
}

// Resume restores a snapshot and continues executing it. Snapshots of
// terminal instances are rejected, as are snapshots with ready or running
// records; in-flight handler state cannot be recovered.
func (e *Engine) Resume(ctx context.Context, snap Snapshot) (*InstanceHandle, error) {
	in, err := e.Restore(snap)
	if err != nil {
		return nil, err
	}
	if in.status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", errspkg.ErrInstanceTerminal, in.id, in.status)
	}
	for _, rec := range in.Records() {
		if rec.State == TaskReady || rec.State == TaskRunning {
			return nil, fmt.Errorf("%w: node %q is %s", errspkg.ErrNotResumable, rec.NodeID, rec.State)
		}
	}

	handle := newInstanceHandle(e, in)
	sched := newScheduler(e, handle)
	go sched.run(ctx, true)
	return handle, nil
}

func validTaskState(state TaskState) bool {
	switch state {
	case TaskFuture, TaskWaiting, TaskReady, TaskRunning,
		TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}
