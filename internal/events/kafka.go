package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
)

var _ ports.EventPublisher = (*KafkaPublisher)(nil)

// messageWriter is the part of kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes lifecycle events as JSON, keyed by order id, or by group id for
// group events, so one aggregate always lands on one partition.
type KafkaPublisher struct {
	logger  *slog.Logger
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(logger *slog.Logger, brokers []string, topic string) *KafkaPublisher {
	return newKafkaPublisher(logger, &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	})
}

func newKafkaPublisher(logger *slog.Logger, w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{logger: logger, writer: w, timeout: 5 * time.Second}
}

func (k *KafkaPublisher) Publish(ctx context.Context, events ...entities.Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Key()),
			Value: v,
			Time:  e.At,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		})
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write %d messages: %w", len(msgs), err)
	}
	k.logger.Debug("Published events to Kafka", "count", len(msgs))
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
