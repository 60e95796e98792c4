package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/onesided/internal/runtime/jsoncodec"
	"github.com/drblury/onesided/transport"
	"github.com/drblury/onesided/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "io", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsPersistence)
	assert.False(t, caps.SupportsAck)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.IOCapabilities, Capabilities())
}

func TestDefaultFilePath(t *testing.T) {
	assert.Equal(t, "onesided-w1.log", DefaultFilePath("w1"))
}

func TestBuild(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "world.log")

	t.Run("creates transport with custom file", func(t *testing.T) {
		ps, err := Build(context.Background(), &transporttest.Config{IOFile: testFile}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.NotNil(t, ps.Publisher)
		assert.NotNil(t, ps.Subscriber)
		require.NoError(t, ps.Close())
	})

	t.Run("uses world file when empty", func(t *testing.T) {
		originalFactory := PublisherFactory
		defer func() { PublisherFactory = originalFactory }()

		var got string
		PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
			got = filePath
			return &transporttest.Publisher{}, nil
		}

		_, err := Build(context.Background(), &transporttest.Config{World: "w7"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, "onesided-w7.log", got)
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		originalPub := PublisherFactory
		originalSub := SubscriberFactory
		defer func() {
			PublisherFactory = originalPub
			SubscriberFactory = originalSub
		}()

		mockPub := &transporttest.Publisher{}
		PublisherFactory = func(string, watermill.LoggerAdapter) (message.Publisher, error) { return mockPub, nil }
		SubscriberFactory = func(string, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, assert.AnError
		}

		_, err := Build(context.Background(), &transporttest.Config{IOFile: testFile}, watermill.NopLogger{})
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, mockPub.Closed)
	})
}

func TestPublisherWritesOneLinePerMessage(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "publish.log")
	pub := &Publisher{filePath: testFile, logger: watermill.NopLogger{}}

	msg := message.NewMessage("uuid-1", []byte("payload"))
	msg.Metadata.Set("key", "value")
	require.NoError(t, pub.Publish("topic-a", msg, message.NewMessage("uuid-2", nil)))

	content, err := os.ReadFile(testFile)
	require.NoError(t, err)
	lines := splitLines(content)
	require.Len(t, lines, 2)

	var sm storedMessage
	require.NoError(t, jsoncodec.Unmarshal(lines[0], &sm))
	assert.Equal(t, "uuid-1", sm.UUID)
	assert.Equal(t, "topic-a", sm.Topic)
	assert.Equal(t, "value", sm.Metadata["key"])
	assert.Equal(t, []byte("payload"), sm.Payload)
}

func TestSubscriberFollowsFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "follow.log")
	pub := &Publisher{filePath: testFile, logger: watermill.NopLogger{}}
	require.NoError(t, pub.Publish("mine", message.NewMessage("early", []byte("1"))))
	require.NoError(t, pub.Publish("other", message.NewMessage("skip", []byte("x"))))

	sub := NewSubscriber(testFile, watermill.NopLogger{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := sub.Subscribe(ctx, "mine")
	require.NoError(t, err)

	got := receive(t, ctx, ch)
	assert.Equal(t, "early", got.UUID)

	require.NoError(t, pub.Publish("mine", message.NewMessage("late", []byte("2"))))
	got = receive(t, ctx, ch)
	assert.Equal(t, "late", got.UUID)
	assert.Equal(t, "2", string(got.Payload))

	require.NoError(t, sub.Close())
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscriberSkipsGarbage(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "garbage.log")
	require.NoError(t, os.WriteFile(testFile, []byte("not json\n"), 0600))
	pub := &Publisher{filePath: testFile, logger: watermill.NopLogger{}}
	require.NoError(t, pub.Publish("t", message.NewMessage("ok", nil)))

	sub := NewSubscriber(testFile, watermill.NopLogger{})
	defer sub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := sub.Subscribe(ctx, "t")
	require.NoError(t, err)

	assert.Equal(t, "ok", receive(t, ctx, ch).UUID)
}

func receive(t *testing.T, ctx context.Context, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-ctx.Done():
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, b[start:i])
			start = i + 1
		}
	}
	return lines
}
