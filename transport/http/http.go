// Package http provides a point-to-point HTTP transport. Every rank runs a
// server receiving its inbox and posts envelopes straight to its peers, so
// the rank order of peer URLs must match the rank numbering of the world.
package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/onesided/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register registers the HTTP transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// PeerURL resolves the URL an envelope for topic is posted to.
func PeerURL(peers []string, topic string) (string, error) {
	rank, ok := transport.InboxRank(topic)
	if !ok {
		return "", fmt.Errorf("http: %q is not an inbox topic", topic)
	}
	if rank >= len(peers) {
		return "", fmt.Errorf("http: no peer url for rank %d (%d configured)", rank, len(peers))
	}
	return strings.TrimRight(peers[rank], "/") + "/" + topic, nil
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	if serverAddr == "" {
		return transport.PubSub{}, fmt.Errorf("http: server address is required")
	}
	peers := cfg.GetHTTPPeerURLs()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				url, err := PeerURL(peers, topic)
				if err != nil {
					return nil, err
				}
				return http.DefaultMarshalMessageFunc(url, msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("http publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.PubSub{}, fmt.Errorf("http subscriber: %w", err)
	}

	return transport.PubSub{
		Publisher:  publisher,
		Subscriber: newInboxSubscriber(subscriber, logger),
	}, nil
}

// inboxSubscriber routes topics to server paths and starts the server once
// the first route exists.
type inboxSubscriber struct {
	message.Subscriber
	start  func() error
	once   sync.Once
	logger watermill.LoggerAdapter
}

func newInboxSubscriber(sub message.Subscriber, logger watermill.LoggerAdapter) *inboxSubscriber {
	s := &inboxSubscriber{Subscriber: sub, logger: logger}
	if hs, ok := sub.(*http.Subscriber); ok {
		s.start = hs.StartHTTPServer
	}
	return s
}

func (s *inboxSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := s.Subscriber.Subscribe(ctx, "/"+topic)
	if err != nil {
		return nil, err
	}
	if s.start != nil {
		s.once.Do(func() {
			go func() {
				if err := s.start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					s.logger.Error("http server stopped", err, nil)
				}
			}()
		})
	}
	return ch, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
