package transport

// Capabilities describes the features supported by a transport backend.
// The bus consults them when it sizes envelopes and decides how long to
// keep repeating its startup handshake.
type Capabilities struct {
	// SupportsPersistence indicates messages published before the receiving
	// rank subscribes are retained and delivered later. SNS fan-out does not
	// qualify since the queue only exists once the rank subscribes.
	SupportsPersistence bool

	// SupportsOrdering indicates the transport guarantees message ordering.
	// When true, messages within a partition/stream are delivered in order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsBatching indicates the transport can batch multiple messages.
	SupportsBatching bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsPartitioning indicates the transport supports message partitioning.
	SupportsPartitioning bool

	// InProcess indicates all ranks must live in the same process.
	InProcess bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string

	// Version is the transport/driver version.
	Version string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of n bytes can travel in one message.
func (c Capabilities) Fits(n int) bool {
	return c.MaxMessageSize <= 0 || int64(n) <= c.MaxMessageSize
}

// Predefined capability sets for common transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:                "channel",
		SupportsPersistence: false,
		SupportsOrdering:    false,
		SupportsAck:         true,
		SupportsNack:        true,
		InProcess:           true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsPersistence:  true,
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsNack:         false,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:                "rabbitmq",
		SupportsPersistence: true,
		SupportsOrdering:    true,
		SupportsTracing:     true,
		SupportsAck:         true,
		SupportsNack:        true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:                "nats-jetstream",
		SupportsPersistence: true,
		SupportsOrdering:    true,
		SupportsTracing:     true,
		SupportsBatching:    true,
		SupportsAck:         true,
		SupportsNack:        true,
		MaxMessageSize:      1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: false,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   262144, // 256KB
	}

	// SQLiteCapabilities for SQLite-based transport.
	SQLiteCapabilities = Capabilities{
		Name:                "sqlite",
		SupportsPersistence: true,
		SupportsOrdering:    true,
		SupportsBatching:    true,
		SupportsAck:         true,
		SupportsNack:        true,
	}

	// PostgresCapabilities for PostgreSQL-based transport.
	PostgresCapabilities = Capabilities{
		Name:                "postgres",
		SupportsPersistence: true,
		SupportsOrdering:    true,
		SupportsBatching:    true,
		SupportsAck:         true,
		SupportsNack:        true,
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// IOCapabilities for file-based I/O transport.
	IOCapabilities = Capabilities{
		Name:                "io",
		SupportsPersistence: true,
		SupportsOrdering:    true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
