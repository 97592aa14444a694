// Package relay fans delivered envelopes out to Kafka so downstream services
// get the same at-least-once feed the projections consume.
package relay

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
	"github.com/taskdeck/eventrelay/pkg/logger"
)

// MessageProducer is the broker boundary. pkg/kafka provides the real one.
type MessageProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string][]byte) error
	Close() error
}

// Relay is an event handler that republishes envelopes to
// "<prefix>.<aggregate kind>-events" topics, keyed by aggregate id so a
// partition sees one aggregate's events in delivery order.
type Relay struct {
	producer    MessageProducer
	topicPrefix string
	logger      *logger.Logger
}

func NewRelay(producer MessageProducer, topicPrefix string, log *logger.Logger) *Relay {
	return &Relay{
		producer:    producer,
		topicPrefix: topicPrefix,
		logger:      log,
	}
}

func (r *Relay) Name() string {
	return "kafka_relay"
}

// Handle publishes the envelope. Republishing the same envelope twice is
// harmless: consumers of the topic carry the same idempotence obligation the
// projection handlers do.
func (r *Relay) Handle(ctx context.Context, msg *common.OutboxMessage) error {
	headers := map[string][]byte{
		"id":           []byte(msg.ID),
		"aggregate_id": []byte(msg.AggregateID),
		"event_type":   []byte(msg.EventType),
		"created_at":   []byte(msg.CreatedAt.Format(time.RFC3339Nano)),
	}

	err := r.producer.Produce(ctx, r.topicFor(msg.EventType), []byte(msg.AggregateID), msg.Payload, headers)
	if err != nil {
		return errors.Wrap(err, "failed to relay event")
	}

	r.logger.Debug("relayed event",
		"id", msg.ID,
		"event_type", msg.EventType)
	return nil
}

// topicFor derives the topic from the event type's aggregate prefix:
// task.created -> <prefix>.task-events.
func (r *Relay) topicFor(eventType string) string {
	kind := eventType
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		kind = eventType[:i]
	}
	return r.topicPrefix + "." + kind + "-events"
}

var _ common.EventHandler = (*Relay)(nil)
