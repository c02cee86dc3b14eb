// Package aws provides an AWS SNS/SQS event backend. Each topic becomes an
// SNS topic fanning out into per-subscriber SQS queues. A custom endpoint
// switches the backend to LocalStack-style deployments.
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

	"github.com/drblury/procflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for
// testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Build creates an SNS/SQS sink from the AWS section of cfg.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sink, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return transport.Sink{}, fmt.Errorf("load aws config: %w", err)
	}

	accountID, region := resolveAccountAndRegion(cfg, awsCfg.Region, logger)
	logger.Info("Building AWS event transport", watermill.LogFields{
		"account_id":      accountID,
		"region":          region,
		"custom_endpoint": cfg.AWSEndpoint != "",
	})

	topicResolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		return transport.Sink{}, fmt.Errorf("create topic resolver: %w", err)
	}

	snsOpts, sqsOpts, err := endpointOverrides(cfg)
	if err != nil {
		return transport.Sink{}, err
	}

	publisher, err := PublisherFactory(sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     awsCfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
		OptFns:        snsOpts,
	}, logger)
	if err != nil {
		return transport.Sink{}, fmt.Errorf("create sns publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		sns.SubscriberConfig{
			AWSConfig:            awsCfg,
			OptFns:               snsOpts,
			TopicResolver:        topicResolver,
			GenerateSqsQueueName: queueNameFromTopic,
		},
		sqs.SubscriberConfig{
			AWSConfig: awsCfg,
			OptFns:    sqsOpts,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Sink{}, fmt.Errorf("create sqs subscriber: %w", err)
	}

	return transport.Sink{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func loadAWSConfig(ctx context.Context, cfg transport.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			staticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey),
		))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if cfg.AWSRegion != "" {
		awsCfg.Region = cfg.AWSRegion
	}
	return awsCfg, nil
}

// queueNameFromTopic names the SQS queue after the SNS topic, so one queue
// per topic is shared by all engine processes.
func queueNameFromTopic(_ context.Context, snsTopic sns.TopicArn) (string, error) {
	topic, err := sns.ExtractTopicNameFromTopicArn(snsTopic)
	if err != nil {
		return "", err
	}
	return string(topic), nil
}

// endpointOverrides points both SNS and SQS clients at cfg.AWSEndpoint when
// one is configured.
func endpointOverrides(cfg transport.Config) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	if cfg.AWSEndpoint == "" {
		return nil, nil, nil
	}

	parsedURL, err := url.Parse(cfg.AWSEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("parse aws endpoint: %w", err)
	}

	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	return snsOpts, sqsOpts, nil
}

// resolveAccountAndRegion fills in the LocalStack default account when a
// custom endpoint is configured without a usable account ID.
func resolveAccountAndRegion(cfg transport.Config, fallbackRegion string, logger watermill.LoggerAdapter) (string, string) {
	accountID := strings.Trim(cfg.AWSAccountID, "\"' ")
	region := cfg.AWSRegion
	if region == "" {
		region = fallbackRegion
	}

	if cfg.AWSEndpoint != "" && (accountID == "" || len(accountID) != awsAccountIDLength) {
		if accountID != "" {
			logger.Info("Invalid AWS account ID; using LocalStack default", watermill.LogFields{
				"account_id": accountID,
			})
		}
		accountID = localstackAccountID
	}

	return accountID, region
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
