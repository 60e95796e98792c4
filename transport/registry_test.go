package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

type mockConfig struct {
	pubSubSystem string
	rank, size   int
}

func (m *mockConfig) GetPubSubSystem() string { return m.pubSubSystem }
func (m *mockConfig) GetWorld() string        { return "test" }
func (m *mockConfig) GetRank() int            { return m.rank }
func (m *mockConfig) GetSize() int {
	if m.size == 0 {
		return 1
	}
	return m.size
}
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPeerURLs() []string     { return nil }
func (m *mockConfig) GetIOFile() string             { return "" }
func (m *mockConfig) GetSQLiteFile() string         { return "" }
func (m *mockConfig) GetPostgresURL() string        { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                              { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }

func mockBuilder(context.Context, Config, watermill.LoggerAdapter) (PubSub, error) {
	return PubSub{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}, nil
}

func TestNewRegistryIsEmpty(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Names())
	assert.False(t, reg.Has("channel"))
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", mockBuilder)

	assert.True(t, reg.Has("test-transport"))
	assert.Equal(t, []string{"test-transport"}, reg.Names())
	assert.Equal(t, Capabilities{Name: "test-transport"}, reg.GetCapabilities("test-transport"))
}

func TestRegistryCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("named", mockBuilder, Capabilities{Name: "Named", InProcess: true})
	reg.RegisterWithCapabilities("anon", mockBuilder, Capabilities{SupportsPersistence: true})

	assert.Equal(t, "Named", reg.GetCapabilities("named").Name)
	assert.True(t, reg.GetCapabilities("named").InProcess)
	assert.Equal(t, "anon", reg.GetCapabilities("anon").Name, "empty name is filled in")

	unknown := reg.GetCapabilities("unknown")
	assert.Equal(t, "unknown", unknown.Name)
	assert.False(t, unknown.SupportsPersistence)
}

func TestRegistryReRegisterKeepsCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("t", nil, Capabilities{MaxMessageSize: 64})
	reg.Register("t", mockBuilder)

	assert.EqualValues(t, 64, reg.GetCapabilities("t").MaxMessageSize)
	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "t"}, nil)
	assert.NoError(t, err)
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	var gotLogger watermill.LoggerAdapter
	reg.Register("test-transport", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (PubSub, error) {
		gotLogger = logger
		return mockBuilder(ctx, cfg, logger)
	})

	ps, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "test-transport", rank: 1, size: 2}, nil)
	require.NoError(t, err)
	assert.NotNil(t, ps.Publisher)
	assert.NotNil(t, ps.Subscriber)
	assert.NotNil(t, gotLogger, "a nil logger is replaced")
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("builder error")
	reg.Register("ok", mockBuilder)
	reg.Register("failing", func(context.Context, Config, watermill.LoggerAdapter) (PubSub, error) {
		return PubSub{}, boom
	})
	reg.RegisterWithCapabilities("listed-only", nil, Capabilities{})

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"nil config", nil, errspkg.ErrConfigRequired},
		{"unknown", &mockConfig{pubSubSystem: "nope"}, errspkg.ErrUnknownTransport},
		{"no builder", &mockConfig{pubSubSystem: "listed-only"}, errspkg.ErrUnknownTransport},
		{"rank past size", &mockConfig{pubSubSystem: "ok", rank: 2, size: 2}, errspkg.ErrInvalidRank},
		{"negative rank", &mockConfig{pubSubSystem: "ok", rank: -1}, errspkg.ErrInvalidRank},
		{"builder error", &mockConfig{pubSubSystem: "failing"}, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Build(context.Background(), tt.cfg, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegistryUnknownListsRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", mockBuilder)
	reg.Register("a", mockBuilder)

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "c"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[a b]")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", mockBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()
	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegistry(t *testing.T) {
	Register("test-pkg-transport", mockBuilder)
	RegisterWithCapabilities("test-pkg-caps-transport", mockBuilder, Capabilities{SupportsOrdering: true})

	assert.True(t, DefaultRegistry.Has("test-pkg-transport"))
	caps := GetCapabilities("test-pkg-caps-transport")
	assert.Equal(t, "test-pkg-caps-transport", caps.Name)
	assert.True(t, caps.SupportsOrdering)

	_, err := Build(context.Background(), &mockConfig{pubSubSystem: "nonexistent"}, nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownTransport)
}
