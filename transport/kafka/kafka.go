// Package kafka provides an Apache Kafka event backend. Events are durable
// and partition-ordered; subscribers in the same consumer group share the
// stream.
package kafka

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/procflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "kafka"

// DefaultConsumerGroup is used when the config does not name one.
const DefaultConsumerGroup = "procflow-events"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a Kafka sink from cfg.KafkaBrokers.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sink, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return transport.Sink{}, fmt.Errorf("kafka: no brokers configured")
	}

	group := cfg.KafkaConsumerGroup
	if group == "" {
		group = DefaultConsumerGroup
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return transport.Sink{}, fmt.Errorf("kafka publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       cfg.KafkaBrokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: group,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Sink{}, fmt.Errorf("kafka subscriber: %w", err)
	}

	return transport.Sink{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
