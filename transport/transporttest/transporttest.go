// Package transporttest provides fakes shared by the backend tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/onesided/transport"
)

// Config is a transport.Config backed by plain fields.
type Config struct {
	PubSubSystem       string
	World              string
	Rank               int
	Size               int
	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	HTTPServerAddress  string
	HTTPPeerURLs       []string
	IOFile             string
	SQLiteFile         string
	PostgresURL        string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

var _ transport.Config = (*Config)(nil)

func (c *Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *Config) GetWorld() string              { return c.World }
func (c *Config) GetRank() int                  { return c.Rank }
func (c *Config) GetSize() int                  { return c.Size }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *Config) GetHTTPPeerURLs() []string     { return c.HTTPPeerURLs }
func (c *Config) GetIOFile() string             { return c.IOFile }
func (c *Config) GetSQLiteFile() string         { return c.SQLiteFile }
func (c *Config) GetPostgresURL() string        { return c.PostgresURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher records published messages per topic.
type Publisher struct {
	mu        sync.Mutex
	Published map[string][]*message.Message
	Err       error
	Closed    int
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Published == nil {
		p.Published = make(map[string][]*message.Message)
	}
	p.Published[topic] = append(p.Published[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// Count returns the number of messages published to topic.
func (p *Publisher) Count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published[topic])
}

// Subscriber records subscribed topics and never delivers.
type Subscriber struct {
	mu     sync.Mutex
	Topics []string
	Err    error
	Closed int
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.Topics = append(s.Topics, topic)
	return make(chan *message.Message), nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
	return nil
}
