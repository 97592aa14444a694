package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/taskdeck/eventrelay/pkg/logger"
)

// ProducerConfig represents the configuration for the Kafka producer
type ProducerConfig struct {
	Brokers          []string
	ClientID         string
	RequestTimeoutMs int
	MaxRetries       int
}

// Producer publishes integration events to Kafka.
type Producer struct {
	client *kgo.Client
	logger *logger.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, log *logger.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return time.Millisecond * time.Duration(100*(attempt+1))
		}),
	}

	if cfg.RequestTimeoutMs > 0 {
		opts = append(opts, kgo.RequestTimeoutOverhead(time.Duration(cfg.RequestTimeoutMs)*time.Millisecond))
	}

	if cfg.MaxRetries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.MaxRetries))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Kafka client")
	}

	// Initial ping to verify connection
	if err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Kafka brokers")
	}

	return &Producer{
		client: client,
		logger: log,
	}, nil
}

// Produce produces a message to a Kafka topic
func (p *Producer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string][]byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{
			Key:   k,
			Value: v,
		})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Error("failed to produce message", err,
			"topic", topic)
		return errors.Wrap(err, "failed to produce message")
	}

	p.logger.Debug("produced message", "topic", topic)
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
