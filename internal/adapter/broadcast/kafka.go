// Package broadcast publishes real-time events to Kafka. Dashboard consumers
// subscribe to the alert topic and filter on the group header.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaBroadcaster produces group-scoped events to a Kafka topic. It
// implements scanner.Broadcaster.
type KafkaBroadcaster struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewKafkaBroadcaster creates a producer for the given alert topic.
func NewKafkaBroadcaster(brokers []string, topic string, logger *slog.Logger) *KafkaBroadcaster {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return &KafkaBroadcaster{writer: w, logger: logger}
}

// Publish serializes the payload and produces one message keyed by group, so
// consumers of a single group read their events in order.
func (b *KafkaBroadcaster) Publish(ctx context.Context, group, event string, payload any) error {
	msg, err := serializeToMessage(group, event, payload, time.Now())
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(ctx, msg)
}

func (b *KafkaBroadcaster) Close() error {
	return b.writer.Close()
}

// serializeToMessage marshals an event envelope into a Kafka message.
func serializeToMessage(group, event string, payload any, at time.Time) (kafkago.Message, error) {
	value, err := json.Marshal(envelope{
		Group:   group,
		Event:   event,
		Payload: payload,
		SentAt:  at,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize broadcast event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(group),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "group", Value: []byte(group)},
			{Key: "event", Value: []byte(event)},
		},
	}, nil
}

type envelope struct {
	Group   string    `json:"group"`
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}
