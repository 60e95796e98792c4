// Package jetstream provides a NATS JetStream transport. All inboxes of a world
// live in one work-queue stream, so envelopes published before a rank
// subscribes are kept until that rank acknowledges them.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/onesided/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAge bounds how long undelivered envelopes are kept.
	DefaultMaxAge = time.Hour

	// FetchBatch is the number of messages pulled per fetch.
	FetchBatch = 32
)

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	if cfg.GetNATSURL() == "" {
		return transport.PubSub{}, fmt.Errorf("nats-jetstream: url is required")
	}
	t, err := New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: StreamName(cfg.GetWorld()),
	}, logger)
	if err != nil {
		return transport.PubSub{}, err
	}

	return transport.PubSub{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// StreamName returns the stream holding the inboxes of world.
func StreamName(world string) string {
	return "ONESIDED_" + strings.ToUpper(world)
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the name of the JetStream stream to use.
	// If empty, defaults to "ONESIDED".
	StreamName string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment.
	AckWait time.Duration

	// MaxAge is how long the stream keeps messages.
	MaxAge time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = "ONESIDED"
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport implements Publisher and Subscriber for NATS JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subscriptions map[string]*nats.Subscription
	subMu         sync.RWMutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

// New creates a new NATS JetStream transport.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := nats.Connect(cfg.URL, nats.Name(strings.ToLower(cfg.StreamName)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:            nc,
		js:            js,
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
		closedChan:    make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return t, nil
}

func (t *Transport) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
	}
}

func (t *Transport) ensureStream() error {
	streamCfg := t.streamConfig()
	if _, err := t.js.AddStream(streamCfg); err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return err
		}
		t.logger.Debug("JetStream stream exists", watermill.LogFields{
			"stream": t.config.StreamName,
		})
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.closedMu.RLock()
	defer t.closedMu.RUnlock()
	return t.closed
}

// Publish publishes messages to the JetStream stream.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return fmt.Errorf("transport is closed")
	}

	subject := t.topicToSubject(topic)

	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(nats.MsgIdHdr, msg.UUID)

		natsMsg := &nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}

		if _, err := t.js.PublishMsg(natsMsg); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to a topic and returns a channel of messages.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, fmt.Errorf("transport is closed")
	}

	subject := t.topicToSubject(topic)
	consumerName := t.topicToConsumer(topic)
	output := make(chan *message.Message)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err = t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, consumerName, nats.Bind(t.config.StreamName, consumerName))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.subMu.Lock()
	t.subscriptions[topic] = sub
	t.subMu.Unlock()

	go t.fetchMessages(ctx, sub, output, topic)

	return output, nil
}

func (t *Transport) fetchMessages(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		msgs, err := sub.Fetch(FetchBatch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if t.isClosed() || ctx.Err() != nil {
				return
			}
			t.logger.Error("Failed to fetch messages", err, watermill.LogFields{
				"topic": topic,
			})
			continue
		}

		for _, natsMsg := range msgs {
			wmMsg := natsToWatermill(natsMsg)

			select {
			case output <- wmMsg:
				select {
				case <-wmMsg.Acked():
					if err := natsMsg.Ack(); err != nil {
						t.logger.Error("Failed to ack", err, nil)
					}
				case <-wmMsg.Nacked():
					if err := natsMsg.Nak(); err != nil {
						t.logger.Error("Failed to nak", err, nil)
					}
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func natsToWatermill(natsMsg *nats.Msg) *message.Message {
	msgID := natsMsg.Header.Get(nats.MsgIdHdr)
	if msgID == "" {
		msgID = watermill.NewUUID()
	}

	wmMsg := message.NewMessage(msgID, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}
	return wmMsg
}

func (t *Transport) topicToSubject(topic string) string {
	return t.config.StreamName + "." + topic
}

func (t *Transport) topicToConsumer(topic string) string {
	return "consumer_" + topic
}

// Close closes the JetStream transport.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		_ = sub.Unsubscribe()
	}
	t.subscriptions = make(map[string]*nats.Subscription)
	t.subMu.Unlock()

	t.nc.Close()

	return nil
}

// Capabilities returns the JetStream transport capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
