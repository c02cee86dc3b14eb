package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/procflow/internal/engine/errors"
	"github.com/drblury/procflow/internal/engine/jsoncodec"
	loggingpkg "github.com/drblury/procflow/internal/engine/logging"
)

// Event types emitted on the event topic.
const (
	EventInstanceStarted   = "instance.started"
	EventTaskState         = "task.state"
	EventInstanceCompleted = "instance.completed"
	EventInstanceFailed    = "instance.failed"
	EventInstanceCancelled = "instance.cancelled"
	EventInstanceStuck     = "instance.stuck"
)

// Metadata keys set on every published event message.
const (
	MetadataKeyEventType    = "procflow_event_type"
	MetadataKeyInstanceID   = "procflow_instance_id"
	MetadataKeyDefinitionID = "procflow_definition_id"
)

// Event is the payload published for every observable state change of an
// instance. Seq increases by one per event within an instance, so consumers
// can reorder after transport shuffling.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	InstanceID   string    `json:"instance_id"`
	DefinitionID string    `json:"definition_id"`
	NodeID       string    `json:"node_id,omitempty"`
	From         TaskState `json:"from,omitempty"`
	To           TaskState `json:"to,omitempty"`
	Error        string    `json:"error,omitempty"`
	Seq          uint64    `json:"seq"`
	At           time.Time `json:"at"`
}

// NewEventMessage converts the event into a Watermill message with the
// standard metadata required by the event pipeline.
func NewEventMessage(event Event) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set(MetadataKeyEventType, event.Type)
	msg.Metadata.Set(MetadataKeyInstanceID, event.InstanceID)
	msg.Metadata.Set(MetadataKeyDefinitionID, event.DefinitionID)
	return msg, nil
}

// publishEvent emits the event on the configured topic. Publish failures are
// logged and swallowed so the event stream never decides instance outcomes.
func (e *Engine) publishEvent(ctx context.Context, event Event) {
	if e.publisher == nil {
		return
	}

	msg, err := NewEventMessage(event)
	if err != nil {
		e.Logger.Error("Failed to encode engine event", err, loggingpkg.LogFields{
			"event_type":  event.Type,
			"instance_id": event.InstanceID,
		})
		return
	}
	if ctx != nil {
		// Terminal events are published after the run context may already be
		// cancelled; keep its values but detach the cancellation.
		msg.SetContext(context.WithoutCancel(ctx))
	}

	if err := e.publisher.Publish(e.Conf.EventTopic, msg); err != nil {
		e.Logger.Error("Failed to publish engine event", err, loggingpkg.LogFields{
			"event_type":  event.Type,
			"instance_id": event.InstanceID,
			"topic":       e.Conf.EventTopic,
		})
	}
}

// instanceEventType maps a terminal status to its event type. A failure
// caused by a stalled graph is reported as stuck rather than failed.
func instanceEventType(status InstanceStatus, lastErr error) string {
	switch status {
	case InstanceCompleted:
		return EventInstanceCompleted
	case InstanceCancelled:
		return EventInstanceCancelled
	case InstanceFailed:
		var stuck *errspkg.StuckError
		if errors.As(lastErr, &stuck) {
			return EventInstanceStuck
		}
		return EventInstanceFailed
	}
	return ""
}
