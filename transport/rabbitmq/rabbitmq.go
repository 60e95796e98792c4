// Package rabbitmq provides a RabbitMQ/AMQP transport. Every rank inbox is a
// durable queue named after its topic, so envelopes wait in the broker until
// the rank consumes them.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/onesided/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// InboxExpiry is how long an unused inbox queue survives in the broker. World
// names are usually unique per run, so finished worlds leave their inboxes
// behind. Zero keeps them forever.
var InboxExpiry = time.Hour

// InboxPrefetch bounds the envelopes delivered to a rank before it acks.
const InboxPrefetch = 64

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ transport sharing one connection between the
// publisher and the subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.PubSub{}, fmt.Errorf("rabbitmq: url is required")
	}

	amqpConfig := inboxConfig(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("rabbitmq connection: %w", err)
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("rabbitmq publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.PubSub{}, fmt.Errorf("rabbitmq subscriber: %w", err)
	}

	return transport.PubSub{
		Publisher:  publisher,
		Subscriber: &connSubscriber{Subscriber: subscriber, conn: conn},
	}, nil
}

// inboxConfig returns a durable queue per inbox topic with the expiry and
// prefetch applied.
func inboxConfig(url string) amqp.Config {
	c := amqp.NewDurableQueueConfig(url)
	if InboxExpiry > 0 {
		c.Queue.Arguments = amqp091.Table{"x-expires": InboxExpiry.Milliseconds()}
	}
	c.Consume.Qos.PrefetchCount = InboxPrefetch
	return c
}

// connSubscriber closes the shared connection after the subscriber.
type connSubscriber struct {
	message.Subscriber
	conn *amqp.ConnectionWrapper
}

func (s *connSubscriber) Close() error {
	err := s.Subscriber.Close()
	if cerr := s.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
