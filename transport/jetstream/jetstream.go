// Package jetstream provides a NATS JetStream event backend. Unlike the core
// nats backend it stores events in a stream: durable consumers replay the
// full history on first subscribe and resume where they left off after a
// reconnect.
package jetstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/procflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "jetstream"

// DefaultStreamName is used when cfg.JetStreamName is empty.
const DefaultStreamName = "PROCFLOW-EVENTS"

const (
	defaultMaxAge     = 7 * 24 * time.Hour
	defaultAckWait    = 30 * time.Second
	defaultMaxDeliver = 5

	// headerUUID carries the watermill message UUID. Metadata keys travel
	// under metadataPrefix via direct map writes; nats.Header.Set would
	// canonicalize them and break lookups on the consuming side.
	headerUUID     = "Procflow-Uuid"
	metadataPrefix = "Procflow-Md-"
)

// ConnectFactory allows overriding the connection creation for testing.
var ConnectFactory = func(url string) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, js, nil
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.JetStreamCapabilities)
}

// Build connects to cfg.NATSURL and ensures the event stream exists.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sink, error) {
	url := cfg.NATSURL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.JetStreamName
	if name == "" {
		name = DefaultStreamName
	}

	nc, js, err := ConnectFactory(url)
	if err != nil {
		return transport.Sink{}, fmt.Errorf("jetstream connect: %w", err)
	}

	if err := ensureStream(js, name); err != nil {
		if nc != nil {
			nc.Close()
		}
		return transport.Sink{}, err
	}

	s := &Stream{
		nc:     nc,
		js:     js,
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}
	return transport.Sink{Publisher: s, Subscriber: s}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.JetStreamCapabilities
}

func ensureStream(js nats.JetStreamContext, name string) error {
	cfg := &nats.StreamConfig{
		Name:      name,
		Subjects:  []string{name + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    defaultMaxAge,
	}
	if _, err := js.AddStream(cfg); err != nil {
		if _, uerr := js.UpdateStream(cfg); uerr != nil {
			return fmt.Errorf("ensure stream %q: %w", name, err)
		}
	}
	return nil
}

// Stream is a JetStream-backed publisher and subscriber sharing one
// connection. The sink hands out the same Stream for both ends.
type Stream struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	name   string
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Publish stores messages in the stream under a subject derived from the
// topic.
func (s *Stream) Publish(topic string, messages ...*message.Message) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("jetstream transport is closed")
	}
	s.mu.RUnlock()

	subject := s.subject(topic)
	for _, msg := range messages {
		if _, err := s.js.PublishMsg(&nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  toHeader(msg),
		}); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe creates (or resumes) a durable pull consumer for the topic and
// streams its messages until ctx is cancelled or the sink is closed.
func (s *Stream) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("jetstream transport is closed")
	}
	s.mu.RUnlock()

	subject := s.subject(topic)
	consumer := s.consumerName(topic)

	cfg := &nats.ConsumerConfig{
		Durable:       consumer,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       defaultAckWait,
		MaxDeliver:    defaultMaxDeliver,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if _, err := s.js.AddConsumer(s.name, cfg); err != nil {
		if _, uerr := s.js.UpdateConsumer(s.name, cfg); uerr != nil {
			return nil, fmt.Errorf("ensure consumer %q: %w", consumer, err)
		}
	}

	sub, err := s.js.PullSubscribe(subject, consumer)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", subject, err)
	}

	out := make(chan *message.Message)
	go s.fetchLoop(ctx, sub, out)
	return out, nil
}

// Close drains the connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

func (s *Stream) fetchLoop(ctx context.Context, sub *nats.Subscription, out chan<- *message.Message) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		batch, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			s.logger.Error("fetch events", err, watermill.LogFields{"stream": s.name})
			continue
		}

		for _, natsMsg := range batch {
			msg := toWatermill(natsMsg)

			select {
			case out <- msg:
				select {
				case <-msg.Acked():
					if err := natsMsg.Ack(); err != nil {
						s.logger.Error("ack event", err, nil)
					}
				case <-msg.Nacked():
					if err := natsMsg.Nak(); err != nil {
						s.logger.Error("nak event", err, nil)
					}
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

// subject maps a topic to a single subject token below the stream root.
func (s *Stream) subject(topic string) string {
	return s.name + "." + sanitizeToken(topic)
}

// consumerName derives a durable consumer name from the topic.
func (s *Stream) consumerName(topic string) string {
	return s.name + "-" + sanitizeToken(topic)
}

var tokenReplacer = strings.NewReplacer(
	".", "_",
	"*", "_",
	">", "_",
	"/", "_",
	" ", "_",
)

func sanitizeToken(topic string) string {
	return tokenReplacer.Replace(topic)
}

func toHeader(msg *message.Message) nats.Header {
	header := nats.Header{}
	header.Set(headerUUID, msg.UUID)
	for k, v := range msg.Metadata {
		header[metadataPrefix+k] = []string{v}
	}
	return header
}

func toWatermill(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(headerUUID)
	if id == "" {
		id = watermill.NewUUID()
	}

	msg := message.NewMessage(id, natsMsg.Data)
	for k, vs := range natsMsg.Header {
		rest, ok := strings.CutPrefix(k, metadataPrefix)
		if ok && len(vs) > 0 {
			msg.Metadata[rest] = vs[0]
		}
	}
	return msg
}
