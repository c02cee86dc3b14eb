package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	procflow "github.com/drblury/procflow"
	"github.com/drblury/procflow/transport"
)

// defaultTransport keeps events in-process unless a broker is configured.
const defaultTransport = "channel"

// cliConfig carries the engine settings the CLI exposes. Zero values defer to
// the engine defaults.
type cliConfig struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout"`
	EventTopic         string        `mapstructure:"event_topic"`
	LogDataContext     bool          `mapstructure:"log_data_context"`
	Emitter            string        `mapstructure:"emitter"`
	MetricsAddr        string        `mapstructure:"metrics_addr"`
	Verbose            bool          `mapstructure:"verbose"`

	// Event transport. Transport names a registered backend; the remaining
	// keys configure whichever backend is selected.
	Transport                   string   `mapstructure:"transport"`
	TransportChannelBuffer      int64    `mapstructure:"transport_channel_buffer"`
	TransportKafkaBrokers       []string `mapstructure:"transport_kafka_brokers"`
	TransportKafkaConsumerGroup string   `mapstructure:"transport_kafka_consumer_group"`
	TransportAMQPURL            string   `mapstructure:"transport_amqp_url"`
	TransportNATSURL            string   `mapstructure:"transport_nats_url"`
	TransportJetStreamName      string   `mapstructure:"transport_jetstream_name"`
	TransportHTTPListenAddr     string   `mapstructure:"transport_http_listen_addr"`
	TransportHTTPPublisherURL   string   `mapstructure:"transport_http_publisher_url"`
	TransportJournalPath        string   `mapstructure:"transport_journal_path"`
	TransportSQLitePath         string   `mapstructure:"transport_sqlite_path"`
	TransportPostgresURL        string   `mapstructure:"transport_postgres_url"`
	TransportAWSRegion          string   `mapstructure:"transport_aws_region"`
	TransportAWSAccountID       string   `mapstructure:"transport_aws_account_id"`
	TransportAWSAccessKeyID     string   `mapstructure:"transport_aws_access_key_id"`
	TransportAWSSecretAccessKey string   `mapstructure:"transport_aws_secret_access_key"`
	TransportAWSEndpoint        string   `mapstructure:"transport_aws_endpoint"`
}

// loadConfig reads the config file at path, or searches the working directory
// and $HOME/.config/procflow for a procflow.yaml when path is empty. A missing
// file is only an error when it was named explicitly.
func loadConfig(path string) (*cliConfig, error) {
	v := viper.New()
	v.SetDefault("max_concurrent_tasks", 0)
	v.SetDefault("default_task_timeout", time.Duration(0))
	v.SetDefault("event_topic", "")
	v.SetDefault("log_data_context", false)
	v.SetDefault("emitter", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("verbose", false)
	v.SetDefault("transport", defaultTransport)
	v.SetDefault("transport_channel_buffer", 256)
	v.SetDefault("transport_kafka_brokers", []string{})
	v.SetDefault("transport_kafka_consumer_group", "")
	v.SetDefault("transport_amqp_url", "")
	v.SetDefault("transport_nats_url", "")
	v.SetDefault("transport_jetstream_name", "")
	v.SetDefault("transport_http_listen_addr", "")
	v.SetDefault("transport_http_publisher_url", "")
	v.SetDefault("transport_journal_path", "")
	v.SetDefault("transport_sqlite_path", "")
	v.SetDefault("transport_postgres_url", "")
	v.SetDefault("transport_aws_region", "")
	v.SetDefault("transport_aws_account_id", "")
	v.SetDefault("transport_aws_access_key_id", "")
	v.SetDefault("transport_aws_secret_access_key", "")
	v.SetDefault("transport_aws_endpoint", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("procflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/procflow")
	}

	v.SetEnvPrefix("PROCFLOW")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	conf := &cliConfig{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if verbose {
		conf.Verbose = true
	}
	return conf, nil
}

// engineConfig maps the CLI settings onto an engine config.
func (c *cliConfig) engineConfig() *procflow.Config {
	return &procflow.Config{
		MaxConcurrentTasks: c.MaxConcurrentTasks,
		DefaultTaskTimeout: c.DefaultTaskTimeout,
		EventTopic:         c.EventTopic,
		LogDataContext:     c.LogDataContext,
	}
}

// transportConfig maps the CLI settings onto an event transport config.
func (c *cliConfig) transportConfig() transport.Config {
	return transport.Config{
		ChannelBuffer:      c.TransportChannelBuffer,
		KafkaBrokers:       c.TransportKafkaBrokers,
		KafkaConsumerGroup: c.TransportKafkaConsumerGroup,
		AMQPURL:            c.TransportAMQPURL,
		NATSURL:            c.TransportNATSURL,
		JetStreamName:      c.TransportJetStreamName,
		HTTPListenAddr:     c.TransportHTTPListenAddr,
		HTTPPublisherURL:   c.TransportHTTPPublisherURL,
		JournalPath:        c.TransportJournalPath,
		SQLitePath:         c.TransportSQLitePath,
		PostgresURL:        c.TransportPostgresURL,
		AWSRegion:          c.TransportAWSRegion,
		AWSAccountID:       c.TransportAWSAccountID,
		AWSAccessKeyID:     c.TransportAWSAccessKeyID,
		AWSSecretAccessKey: c.TransportAWSSecretAccessKey,
		AWSEndpoint:        c.TransportAWSEndpoint,
	}
}
