package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/openclaw/channel-router/internal/sse"
)

// LogBackend writes every record to the structured log.
type LogBackend struct{}

func (LogBackend) Name() string { return "log" }

func (LogBackend) Deliver(_ context.Context, rec Record) error {
	log.Info().
		Str("event", rec.Topic).
		Str("eventId", rec.ID).
		Str("userId", rec.UserID).
		Fields(rec.Data).
		Msg("observability event")
	return nil
}

type broadcaster interface {
	Publish(ctx context.Context, userID string, event sse.Event) error
}

// StreamBackend pushes user-scoped records to that user's event streams.
type StreamBackend struct {
	broker broadcaster
}

func NewStreamBackend(broker broadcaster) *StreamBackend {
	return &StreamBackend{broker: broker}
}

func (b *StreamBackend) Name() string { return "stream" }

func (b *StreamBackend) Deliver(ctx context.Context, rec Record) error {
	if rec.UserID == "" {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return b.broker.Publish(ctx, rec.UserID, sse.Event{Type: rec.Topic, Data: data})
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBackend exports records to a topic, keyed by user for partition affinity.
type KafkaBackend struct {
	writer messageWriter
	topic  string
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaBackend(writer messageWriter, topic string) *KafkaBackend {
	return &KafkaBackend{writer: writer, topic: topic}
}

func (b *KafkaBackend) Name() string { return "kafka" }

func (b *KafkaBackend) Deliver(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	msg := kafka.Message{
		Topic: b.topic,
		Key:   []byte(rec.UserID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-topic", Value: []byte(rec.Topic)},
		},
		Time: rec.At,
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to kafka: %w", err)
	}
	return nil
}

func (b *KafkaBackend) Close() error {
	return b.writer.Close()
}
