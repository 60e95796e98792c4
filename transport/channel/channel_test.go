package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/onesided/transport"
	"github.com/drblury/onesided/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.InProcess)
	assert.False(t, caps.SupportsPersistence)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.ChannelCapabilities, caps)
}

func TestBuildSharesWorld(t *testing.T) {
	a, err := Build(context.Background(), &transporttest.Config{World: "shared"}, watermill.NopLogger{})
	require.NoError(t, err)
	b, err := Build(context.Background(), &transporttest.Config{World: "shared"}, watermill.NopLogger{})
	require.NoError(t, err)
	other, err := Build(context.Background(), &transporttest.Config{World: "other"}, watermill.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscriber.Subscribe(ctx, "topic")
	require.NoError(t, err)
	otherCh, err := other.Subscriber.Subscribe(ctx, "topic")
	require.NoError(t, err)

	require.NoError(t, a.Publisher.Publish("topic", message.NewMessage("1", []byte("hi"))))

	select {
	case msg := <-ch:
		assert.Equal(t, []byte("hi"), []byte(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("message not delivered within the world")
	}
	select {
	case <-otherCh:
		t.Fatal("message leaked into another world")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.NoError(t, other.Close())
	assert.Zero(t, Worlds())
}

func TestBuildKeepsNoHistory(t *testing.T) {
	a, err := Build(context.Background(), &transporttest.Config{World: "early"}, watermill.NopLogger{})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Publisher.Publish("late", message.NewMessage("1", []byte("dropped"))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := a.Subscriber.Subscribe(ctx, "late")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		t.Fatalf("replayed %q published before the subscription", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Publisher.Publish("late", message.NewMessage("2", []byte("kept"))))
	select {
	case msg := <-ch:
		assert.Equal(t, "kept", string(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("message published after subscribing was dropped")
	}
}

func TestBuildUsesFactory(t *testing.T) {
	originalFactory := Factory
	defer func() { Factory = originalFactory }()

	var got gochannel.Config
	mockPub := &transporttest.Publisher{}
	mockSub := &transporttest.Subscriber{}
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		got = cfg
		return mockPub, mockSub
	}

	ps, err := Build(context.Background(), &transporttest.Config{World: "factory"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.False(t, got.Persistent)
	assert.Equal(t, int64(OutputBuffer), got.OutputChannelBuffer)

	require.NoError(t, ps.Close())
	require.NoError(t, ps.Close())
	assert.Equal(t, 1, mockPub.Closed)
	assert.Equal(t, 1, mockSub.Closed)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "channel", TransportName)
}
