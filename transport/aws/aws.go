// Package aws provides an AWS SNS/SQS transport. Each rank inbox is an SNS
// topic fanned out to an SQS queue of the same name. SNS drops messages sent
// before the queue is subscribed, so the bus handshake covers startup.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/onesided/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// Overridable constructors, replaced in tests.
var (
	DefaultConfigLoader  = awsconfig.LoadDefaultConfig
	TopicResolverFactory = sns.NewGenerateArnTopicResolver

	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

func init() {
	Register()
}

// Register registers the AWS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// settings is what a rank needs from the config to reach its inbox.
type settings struct {
	world     string
	rank      int
	accountID string
	region    string
	endpoint  *url.URL
	accessKey string
	secretKey string
}

// resolveSettings reads the AWS keys of cfg. With a custom endpoint the
// account ID falls back to the LocalStack default when it is missing or
// malformed.
func resolveSettings(cfg transport.Config, logger watermill.LoggerAdapter) (settings, error) {
	s := settings{
		world:     cfg.GetWorld(),
		rank:      cfg.GetRank(),
		accountID: strings.Trim(cfg.GetAWSAccountID(), "\"' "),
		region:    cfg.GetAWSRegion(),
		accessKey: cfg.GetAWSAccessKeyID(),
		secretKey: cfg.GetAWSSecretAccessKey(),
	}
	if raw := cfg.GetAWSEndpoint(); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return settings{}, fmt.Errorf("parse AWS endpoint: %w", err)
		}
		s.endpoint = u
		if len(s.accountID) != awsAccountIDLength {
			logger.Info("Using LocalStack account ID", watermill.LogFields{"configured": s.accountID})
			s.accountID = localstackAccountID
		}
	}
	return s, nil
}

func (s settings) loadOptions() []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if s.region != "" {
		opts = append(opts, awsconfig.WithRegion(s.region))
	}
	if s.accessKey != "" && s.secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: s.accessKey, SecretAccessKey: s.secretKey}, nil
			})))
	}
	return opts
}

// Build connects the rank to its SNS inbox topic and SQS queue.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	s, err := resolveSettings(cfg, logger)
	if err != nil {
		return transport.PubSub{}, err
	}

	awsCfg, err := DefaultConfigLoader(ctx, s.loadOptions()...)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("load AWS config: %w", err)
	}
	if s.region != "" {
		awsCfg.Region = s.region
	} else {
		s.region = awsCfg.Region
	}
	if s.endpoint == nil && awsCfg.BaseEndpoint != nil && *awsCfg.BaseEndpoint != "" {
		if s.endpoint, err = url.Parse(*awsCfg.BaseEndpoint); err != nil {
			return transport.PubSub{}, fmt.Errorf("parse AWS base endpoint: %w", err)
		}
	}
	logger.Info("AWS transport configured", watermill.LogFields{
		"account_id":      s.accountID,
		"region":          s.region,
		"custom_endpoint": s.endpoint != nil,
	})

	resolver, err := TopicResolverFactory(s.accountID, s.region)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("sns topic resolver: %w", err)
	}
	snsOpts, sqsOpts := endpointOptions(s.endpoint)

	publisher, err := PublisherFactory(sns.PublisherConfig{
		TopicResolver: resolver,
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("aws publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(sns.SubscriberConfig{
		AWSConfig:            awsCfg,
		OptFns:               snsOpts,
		TopicResolver:        resolver,
		GenerateSqsQueueName: inboxQueueName(s.world, s.rank),
	}, sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    sqsOpts,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.PubSub{}, fmt.Errorf("aws subscriber: %w", err)
	}

	return transport.PubSub{Publisher: publisher, Subscriber: subscriber}, nil
}

// inboxQueueName names the queue after the inbox topic, so every rank owns
// exactly one queue. Subscribing to any topic other than the rank's own inbox
// is refused.
func inboxQueueName(world string, rank int) func(context.Context, sns.TopicArn) (string, error) {
	want := transport.InboxTopic(world, rank)
	return func(_ context.Context, arn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(arn)
		if err != nil {
			return "", err
		}
		if string(topic) != want {
			return "", fmt.Errorf("rank %d of %s cannot subscribe to %s", rank, world, topic)
		}
		return want, nil
	}
}

// endpointOptions points both clients at endpoint. A nil endpoint keeps the
// AWS defaults.
func endpointOptions(endpoint *url.URL) ([]func(*amazonsns.Options), []func(*amazonsqs.Options)) {
	if endpoint == nil {
		return nil, nil
	}
	e := smithyendpoints.Endpoint{URI: *endpoint}
	return []func(*amazonsns.Options){amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: e})},
		[]func(*amazonsqs.Options){amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: e})}
}
