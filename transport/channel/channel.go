// Package channel provides the in-process event backend built on watermill's
// gochannel Pub/Sub. It is the default backend: events never leave the
// process, every subscriber sees every event, and nothing survives a
// restart.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/procflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates an in-process sink. Publisher and subscriber are the same
// object, so closing the sink closes it once.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sink, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer: cfg.ChannelBuffer,
	}, logger)
	return transport.Sink{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
