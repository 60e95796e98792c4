// Package transport defines the remote-memory collaborators used by onesided
// (Comm and Window) and the registry of pub/sub backends they can run on.
// Each backend (kafka, rabbitmq, aws, etc.) lives in its own sub-package and
// registers a Builder with the registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// PubSub combines a publisher and subscriber pair produced by a backend.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and, when it is a different object, the
// subscriber.
func (p PubSub) Close() error {
	var firstErr error
	if p.Publisher != nil {
		firstErr = p.Publisher.Close()
	}
	if p.Subscriber != nil && any(p.Subscriber) != any(p.Publisher) {
		if err := p.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder is the function signature for creating a backend from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (PubSub, error)

// Config provides the configuration values needed by backends.
// This interface allows backends to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the backend name.
	GetPubSubSystem() string

	// World membership. Backends that need one endpoint per rank derive it
	// from these.
	GetWorld() string
	GetRank() int
	GetSize() int

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPeerURLs() []string

	// IO
	GetIOFile() string

	// SQLite
	GetSQLiteFile() string

	// PostgreSQL
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by backends that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// QueueIntrospector is implemented by backends that can report queue statistics.
type QueueIntrospector interface {
	GetPendingCount(topic string) (int64, error)
}

// InboxIntrospector is implemented by communicators that can ask their
// backend how many envelopes are still queued for their own inbox. ok is
// false when the backend cannot count them.
type InboxIntrospector interface {
	PendingInbox() (n int64, ok bool, err error)
}
