// Package channel provides an in-memory Go channel transport. All ranks of a
// world share one pub/sub, so every rank must live in the same process. It
// is meant for tests, demos and local development.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/onesided/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscription channel buffer.
const OutputBuffer = 256

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

type world struct {
	pub  message.Publisher
	sub  message.Subscriber
	refs int
}

var (
	worldsMu sync.Mutex
	worlds   = map[string]*world{}
)

func init() {
	Register()
}

// Register adds the channel transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns a handle on the pub/sub shared by every rank of cfg's world.
// It is closed when the last handle is closed. The pub/sub keeps no history:
// an envelope published to an inbox nobody subscribes to yet is dropped, and
// the bus handshake repeats its hellos until every rank has subscribed.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	name := cfg.GetWorld()

	worldsMu.Lock()
	w, ok := worlds[name]
	if !ok {
		pub, sub := Factory(gochannel.Config{
			OutputChannelBuffer: OutputBuffer,
		}, logger)
		w = &world{pub: pub, sub: sub}
		worlds[name] = w
	}
	w.refs++
	worldsMu.Unlock()

	h := &handle{Publisher: w.pub, Subscriber: w.sub, world: name}
	return transport.PubSub{Publisher: h, Subscriber: h}, nil
}

// Worlds returns the number of worlds with open handles.
func Worlds() int {
	worldsMu.Lock()
	defer worldsMu.Unlock()
	return len(worlds)
}

type handle struct {
	message.Publisher
	message.Subscriber
	world string
	once  sync.Once
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() {
		worldsMu.Lock()
		w := worlds[h.world]
		w.refs--
		last := w.refs == 0
		if last {
			delete(worlds, h.world)
		}
		worldsMu.Unlock()

		if last {
			err = transport.PubSub{Publisher: w.pub, Subscriber: w.sub}.Close()
		}
	})
	return err
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
