package io

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/procflow/internal/engine/jsoncodec"
	"github.com/drblury/procflow/transport"
)

func TestRegistration(t *testing.T) {
	assert.True(t, transport.Has(TransportName))

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "io", caps.Name)
	assert.True(t, caps.Durable)
	assert.True(t, caps.Ordered)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.IOCapabilities, Capabilities())
}

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	sink, err := Build(context.Background(), transport.Config{JournalPath: path}, watermill.NopLogger{})
	require.NoError(t, err)
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := sink.Subscriber.Subscribe(ctx, "procflow.events")
	require.NoError(t, err)

	first := message.NewMessage("evt-1", []byte(`{"type":"instance.started"}`))
	first.Metadata.Set("procflow_event_type", "instance.started")
	require.NoError(t, sink.Publisher.Publish("procflow.events", first))

	// Lines for other topics must be skipped by this subscriber.
	require.NoError(t, sink.Publisher.Publish("other.topic", message.NewMessage("evt-x", []byte(`{}`))))

	second := message.NewMessage("evt-2", []byte(`{"type":"instance.completed"}`))
	require.NoError(t, sink.Publisher.Publish("procflow.events", second))

	got := receive(ctx, t, msgs)
	assert.Equal(t, "evt-1", got.UUID)
	assert.Equal(t, "instance.started", got.Metadata.Get("procflow_event_type"))
	got.Ack()

	got = receive(ctx, t, msgs)
	assert.Equal(t, "evt-2", got.UUID)
	got.Ack()
}

func TestJournalIsPlainJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	sink, err := Build(context.Background(), transport.Config{JournalPath: path}, watermill.NopLogger{})
	require.NoError(t, err)
	defer sink.Close()

	msg := message.NewMessage("evt-1", []byte(`{"seq":1}`))
	msg.Metadata.Set("procflow_instance_id", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, sink.Publisher.Publish("procflow.events", msg))
	require.NoError(t, sink.Publisher.Publish("procflow.events", message.NewMessage("evt-2", []byte(`{"seq":2}`))))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var line journalLine
	require.NoError(t, jsoncodec.Unmarshal([]byte(lines[0]), &line))
	assert.Equal(t, "evt-1", line.UUID)
	assert.Equal(t, "procflow.events", line.Topic)
	assert.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", line.Metadata["procflow_instance_id"])
	assert.JSONEq(t, `{"seq":1}`, string(line.Payload))
}

func receive(ctx context.Context, t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-ctx.Done():
		t.Fatal("timed out waiting for journal event")
		return nil
	}
}
