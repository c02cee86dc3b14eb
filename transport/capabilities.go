package transport

// Capabilities describes what an event backend can and cannot do. Consumers
// use it to decide how much they can rely on the stream: whether events
// survive a restart, arrive in emit order, or reach more than one subscriber.
type Capabilities struct {
	// Name is the registry name of the backend.
	Name string

	// Durable backends keep events across process restarts.
	Durable bool

	// Ordered backends deliver events in the order they were published.
	// Consumers of unordered backends must reorder by the event sequence
	// number before replaying an instance history.
	Ordered bool

	// Broadcast backends deliver every event to every subscriber rather
	// than sharing them across a consumer group.
	Broadcast bool

	// SupportsAck and SupportsNack report whether the backend honours
	// message acknowledgement. Fire-and-forget backends set both false.
	SupportsAck  bool
	SupportsNack bool

	// MaxMessageSize is the largest payload in bytes, 0 for unlimited.
	MaxMessageSize int64
}

// RequiresReordering reports whether consumers must sort events by sequence
// number themselves before interpreting them as an instance history.
func (c Capabilities) RequiresReordering() bool {
	return !c.Ordered
}

// ReliableDelivery reports whether an event can be considered handled only
// after an explicit ack, i.e. the backend persists events and waits for
// acknowledgement.
func (c Capabilities) ReliableDelivery() bool {
	return c.Durable && c.SupportsAck
}

// Predefined capability sets for the built-in backends.
var (
	// ChannelCapabilities for the in-process Go channel backend.
	ChannelCapabilities = Capabilities{
		Name:        "channel",
		Ordered:     true,
		Broadcast:   true,
		SupportsAck: true,
	}

	// KafkaCapabilities for the Apache Kafka backend.
	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Durable:        true,
		Ordered:        true,
		SupportsAck:    true,
		MaxMessageSize: 1048576,
	}

	// NATSCapabilities for the NATS core backend.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		Broadcast:      true,
		MaxMessageSize: 1048576,
	}

	// JetStreamCapabilities for the NATS JetStream backend.
	JetStreamCapabilities = Capabilities{
		Name:           "jetstream",
		Durable:        true,
		Ordered:        true,
		SupportsAck:    true,
		SupportsNack:   true,
		MaxMessageSize: 1048576,
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP backend.
	RabbitMQCapabilities = Capabilities{
		Name:         "rabbitmq",
		Durable:      true,
		Ordered:      true,
		Broadcast:    true,
		SupportsAck:  true,
		SupportsNack: true,
	}

	// HTTPCapabilities for the HTTP webhook backend.
	HTTPCapabilities = Capabilities{
		Name:        "http",
		SupportsAck: true,
	}

	// IOCapabilities for the append-only journal file backend.
	IOCapabilities = Capabilities{
		Name:    "io",
		Durable: true,
		Ordered: true,
	}

	// SQLiteCapabilities for the SQLite archive backend.
	SQLiteCapabilities = Capabilities{
		Name:        "sqlite",
		Durable:     true,
		Ordered:     true,
		SupportsAck: true,
	}

	// PostgresCapabilities for the PostgreSQL archive backend.
	PostgresCapabilities = Capabilities{
		Name:        "postgres",
		Durable:     true,
		Ordered:     true,
		SupportsAck: true,
	}

	// AWSCapabilities for the AWS SNS/SQS backend.
	AWSCapabilities = Capabilities{
		Name:           "aws",
		Durable:        true,
		SupportsAck:    true,
		SupportsNack:   true,
		MaxMessageSize: 262144,
	}
)

// GetCapabilities returns the capabilities a backend registered under name,
// or a zero Capabilities when the backend is unknown.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
