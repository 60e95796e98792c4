// Package io provides a file-based transport. All ranks of a world append
// envelopes to one shared log file and each rank tails the file for its own
// inbox topic, which lets processes on the same host run a world without a
// broker.
package io

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/onesided/internal/runtime/jsoncodec"
	"github.com/drblury/onesided/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// PollInterval is how long a subscriber waits at the end of the file.
var PollInterval = 20 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return NewSubscriber(filePath, logger), nil
}

func init() {
	Register()
}

// Register registers the I/O transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// DefaultFilePath is the log file of a world when none is configured.
func DefaultFilePath(world string) string {
	return "onesided-" + world + ".log"
}

// Build creates a new I/O transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath(cfg.GetWorld())
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.PubSub{}, err
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		_ = pub.Close()
		return transport.PubSub{}, err
	}

	return transport.PubSub{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// storedMessage is one line of the log file.
type storedMessage struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends messages to the log file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// Publish appends one line per message. Each line is written with a single
// call so concurrent writers in other processes do not interleave.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		line, err := jsoncodec.MarshalLine(storedMessage{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		})
		if err != nil {
			return err
		}
		if _, err := f.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails the log file.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber returns a subscriber reading filePath.
func NewSubscriber(filePath string, logger watermill.LoggerAdapter) *Subscriber {
	return &Subscriber{filePath: filePath, logger: logger, closing: make(chan struct{})}
}

// Subscribe delivers every message of topic in the file, starting from the
// beginning, and keeps following appended lines until ctx ends or the
// subscriber is closed. Delivery waits for the previous message's ack.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer cancel()
		defer f.Close()
		s.follow(ctx, f, topic, out)
	}()

	return out, nil
}

func (s *Subscriber) follow(ctx context.Context, f *os.File, topic string, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var partial []byte
	for {
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		if errors.Is(err, io.EOF) {
			// A writer may be mid-line; keep the fragment and wait.
			select {
			case <-ctx.Done():
				return
			case <-time.After(PollInterval):
			}
			continue
		}
		if err != nil {
			s.logger.Error("read log file", err, watermill.LogFields{"file": s.filePath})
			return
		}
		line := partial
		partial = nil
		if !s.deliver(ctx, out, line, topic) {
			return
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	var sm storedMessage
	if err := jsoncodec.UnmarshalLine(line, &sm); err != nil {
		s.logger.Error("decode log line", err, watermill.LogFields{"file": s.filePath})
		return true
	}
	if sm.Topic != topic {
		return true
	}

	msg := message.NewMessage(sm.UUID, sm.Payload)
	if sm.Metadata != nil {
		msg.Metadata = sm.Metadata
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("message nacked", watermill.LogFields{"uuid": msg.UUID})
	case <-ctx.Done():
		return false
	}
	return true
}

// Close stops all subscriptions and waits for them to finish.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	s.wg.Wait()
	return nil
}
