// Package nats provides a NATS Core transport. NATS Core keeps no history, so
// envelopes published to a rank that has not subscribed yet are lost; the bus
// handshake repeats until every rank is listening.
package nats

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/onesided/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// ClientName is the connection name reported to the NATS server.
func ClientName(cfg transport.Config) string {
	return fmt.Sprintf("onesided-%s-%d", cfg.GetWorld(), cfg.GetRank())
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.PubSub{}, fmt.Errorf("nats: url is required")
	}
	marshaler := &nats.NATSMarshaler{}
	options := []nc.Option{nc.Name(ClientName(cfg))}
	disabled := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			Marshaler:   marshaler,
			NatsOptions: options,
			JetStream:   disabled,
		},
		logger,
	)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("nats publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			Unmarshaler: marshaler,
			NatsOptions: options,
			JetStream:   disabled,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.PubSub{}, fmt.Errorf("nats subscriber: %w", err)
	}

	return transport.PubSub{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
