// Package kafka provides a Kafka transport. Each rank reads its inbox topic
// through its own consumer group starting at the oldest offset, so envelopes
// published before the rank joined are still delivered.
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/onesided/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// ConsumerGroup returns the group a rank consumes its inbox with. Ranks never
// share a group; the configured group only supplies the prefix.
func ConsumerGroup(cfg transport.Config) string {
	group := cfg.GetKafkaConsumerGroup()
	if group == "" {
		group = "onesided-" + cfg.GetWorld()
	}
	return fmt.Sprintf("%s-%d", group, cfg.GetRank())
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.PubSub{}, fmt.Errorf("kafka: at least one broker is required")
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("kafka publisher: %w", err)
	}

	saramaConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         ConsumerGroup(cfg),
			OverwriteSaramaConfig: saramaConfig,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.PubSub{}, fmt.Errorf("kafka subscriber: %w", err)
	}

	return transport.PubSub{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
