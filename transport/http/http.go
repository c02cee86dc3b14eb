// Package http provides an HTTP event backend: published events are POSTed
// to a remote webhook URL, subscribed events arrive on a local HTTP
// listener. Useful for pushing the event stream across a network boundary
// without a broker.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/procflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "http"

// DefaultListenAddr is used when cfg.HTTPListenAddr is empty.
const DefaultListenAddr = ":8060"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates an HTTP sink. The publisher appends the topic to
// cfg.HTTPPublisherURL; the subscriber serves POST requests on
// cfg.HTTPListenAddr.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sink, error) {
	listenAddr := cfg.HTTPListenAddr
	if listenAddr == "" {
		listenAddr = DefaultListenAddr
	}
	publisherURL := cfg.HTTPPublisherURL

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(publisherURL+topic, msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Sink{}, err
	}

	sub, err := SubscriberFactory(
		listenAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Sink{}, err
	}
	if hs, ok := sub.(*http.Subscriber); ok {
		sub = &subscriber{Subscriber: hs, logger: logger}
	}

	return transport.Sink{
		Publisher:  publisher,
		Subscriber: sub,
	}, nil
}

// subscriber starts the HTTP listener after the first Subscribe call, so the
// topic route exists before the server accepts requests.
type subscriber struct {
	*http.Subscriber
	logger watermill.LoggerAdapter
	once   sync.Once
}

func (s *subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	s.once.Do(func() {
		go func() {
			err := s.StartHTTPServer()
			if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				s.logger.Error("event http listener stopped", err, nil)
			}
		}()
	})
	return msgs, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
