// Package transport carries the engine's event stream. Each backend lives in
// its own sub-package, registers itself with the transport registry under a
// well-known name, and produces a Sink: the publisher the engine emits
// lifecycle events on, paired with the subscriber consumers read them from.
//
// The engine itself only depends on watermill's message.Publisher; this
// package exists so applications can pick an event backend by configuration
// instead of wiring one by hand.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Sink bundles the publisher and subscriber ends of one event backend. Both
// may be the same underlying object.
type Sink struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both ends. When publisher and subscriber are the same object
// it is closed once.
func (s Sink) Close() error {
	var firstErr error
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if s.Subscriber != nil && any(s.Subscriber) != any(s.Publisher) {
		if err := s.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder is the function signature for creating a sink from the shared
// transport configuration. Backends register a Builder with the registry.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sink, error)

// Config collects the settings of every built-in backend. Each backend reads
// only its own fields; zero values fall back to that backend's defaults.
type Config struct {
	// ChannelBuffer is the per-subscriber buffer of the in-process channel
	// backend. Zero means unbuffered.
	ChannelBuffer int64

	// Kafka
	KafkaBrokers       []string
	KafkaConsumerGroup string

	// RabbitMQ
	AMQPURL string

	// NATS, shared by the core and JetStream backends.
	NATSURL string
	// JetStreamName is the stream events are stored in. Defaults to
	// "PROCFLOW-EVENTS".
	JetStreamName string

	// HTTP
	HTTPListenAddr   string
	HTTPPublisherURL string

	// JournalPath is the file the io backend appends events to.
	JournalPath string

	// SQLitePath is the database file of the sqlite archive backend.
	SQLitePath string

	// PostgresURL is the connection string of the postgres archive backend.
	PostgresURL string

	// AWS SNS/SQS. Endpoint is only set for LocalStack-style deployments.
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}
