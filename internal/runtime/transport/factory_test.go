package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/onesided/internal/runtime/config"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/logging"
	"github.com/drblury/onesided/transport"
	"github.com/drblury/onesided/transport/bus"
	"github.com/drblury/onesided/transport/transporttest"
)

func testLogger() watermill.LoggerAdapter {
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	serviceLogger := logging.NewSlogServiceLogger(slogger)
	return logging.NewWatermillAdapter(serviceLogger)
}

func TestDefaultFactory(t *testing.T) {
	factory := DefaultFactory()
	assert.NotNil(t, factory)
}

func TestDefaultFactory_Build_Channel(t *testing.T) {
	cfg := &config.Config{
		World:        "factory_channel",
		PubSubSystem: "channel",
		Size:         1,
	}

	comm, err := DefaultFactory().Build(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer comm.Close()

	assert.Equal(t, 0, comm.Rank())
	assert.Equal(t, 1, comm.Size())
	busComm, ok := comm.(*bus.Comm)
	require.True(t, ok)
	assert.True(t, busComm.Capabilities().InProcess)
}

func TestDefaultFactory_Build_NilConfig(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, testLogger())
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
}

func TestDefaultFactory_Build_InvalidTransport(t *testing.T) {
	cfg := &config.Config{PubSubSystem: "invalid-transport"}

	_, err := DefaultFactory().Build(context.Background(), cfg, testLogger())
	assert.Error(t, err)
}

func TestRegistryFactory_PassesOptions(t *testing.T) {
	originalBus := BusFactory
	defer func() { BusFactory = originalBus }()

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	registry := transport.NewRegistry()
	caps := transport.Capabilities{Name: "fake", MaxMessageSize: 512}
	registry.RegisterWithCapabilities("fake", func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
		assert.Equal(t, "w1", cfg.GetWorld())
		return transport.PubSub{Publisher: pub, Subscriber: sub}, nil
	}, caps)

	var got bus.Options
	var deadline bool
	BusFactory = func(ctx context.Context, ps transport.PubSub, opts bus.Options) (transport.Comm, error) {
		got = opts
		_, deadline = ctx.Deadline()
		return nil, errors.New("boom")
	}

	cfg := &config.Config{
		World:             "w1",
		PubSubSystem:      "fake",
		Rank:              2,
		Size:              3,
		HandshakeInterval: 5 * time.Millisecond,
	}
	_, err := RegistryFactory(registry).Build(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake: boom")

	assert.Equal(t, "w1", got.World)
	assert.Equal(t, 2, got.Rank)
	assert.Equal(t, 3, got.Size)
	assert.Equal(t, 5*time.Millisecond, got.HelloInterval)
	assert.Equal(t, caps, got.Capabilities)
	assert.True(t, deadline, "handshake must be bounded by the default timeout")

	assert.Equal(t, 1, pub.Closed)
	assert.Equal(t, 1, sub.Closed)
}
