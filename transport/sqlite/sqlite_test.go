package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/procflow/transport"
)

func TestRegistration(t *testing.T) {
	assert.True(t, transport.Has(TransportName))

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "sqlite", caps.Name)
	assert.True(t, caps.ReliableDelivery())
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.SQLiteCapabilities, Capabilities())
}

func buildArchive(t *testing.T) transport.Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	sink, err := Build(context.Background(), transport.Config{SQLitePath: path}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestArchiveReplaysStoredEvents(t *testing.T) {
	sink := buildArchive(t)

	first := message.NewMessage("evt-1", []byte(`{"type":"instance.started"}`))
	first.Metadata.Set("procflow_event_type", "instance.started")
	require.NoError(t, sink.Publisher.Publish("procflow.events", first))
	require.NoError(t, sink.Publisher.Publish("other.topic", message.NewMessage("evt-x", []byte(`{}`))))
	require.NoError(t, sink.Publisher.Publish("procflow.events", message.NewMessage("evt-2", []byte(`{"type":"instance.completed"}`))))

	// Subscribing after the fact replays the stored history in order.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := sink.Subscriber.Subscribe(ctx, "procflow.events")
	require.NoError(t, err)

	got := receive(ctx, t, msgs)
	assert.Equal(t, "evt-1", got.UUID)
	assert.Equal(t, "instance.started", got.Metadata.Get("procflow_event_type"))
	got.Ack()

	got = receive(ctx, t, msgs)
	assert.Equal(t, "evt-2", got.UUID)
	got.Ack()
}

func TestArchiveRedeliversOnNack(t *testing.T) {
	sink := buildArchive(t)

	require.NoError(t, sink.Publisher.Publish("procflow.events", message.NewMessage("evt-1", []byte(`{}`))))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := sink.Subscriber.Subscribe(ctx, "procflow.events")
	require.NoError(t, err)

	got := receive(ctx, t, msgs)
	assert.Equal(t, "evt-1", got.UUID)
	got.Nack()

	got = receive(ctx, t, msgs)
	assert.Equal(t, "evt-1", got.UUID, "nacked event should come around again")
	got.Ack()
}

func TestPublishAfterCloseFails(t *testing.T) {
	sink := buildArchive(t)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "close must be idempotent")

	err := sink.Publisher.Publish("procflow.events", message.NewMessage("evt-1", nil))
	assert.Error(t, err)
}

func receive(ctx context.Context, t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-ctx.Done():
		t.Fatal("timed out waiting for archived event")
		return nil
	}
}
