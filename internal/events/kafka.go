package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the forwarder.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer for the event topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// KafkaForwarder republishes bus events to a Kafka topic.
type KafkaForwarder struct {
	writer  MessageWriter
	timeout time.Duration
	logger  zerolog.Logger
}

// NewKafkaForwarder creates a forwarder around writer.
func NewKafkaForwarder(writer MessageWriter, timeout time.Duration, logger *zerolog.Logger) *KafkaForwarder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "kafka_forwarder").Logger()
	}
	return &KafkaForwarder{writer: writer, timeout: timeout, logger: l}
}

// Attach subscribes the forwarder to the given event types.
func (f *KafkaForwarder) Attach(bus *EventBus, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = AllTypes
	}
	for _, t := range eventTypes {
		bus.Subscribe(t, f.Handle)
	}
}

// Handle writes one event as a Kafka message. The event type travels as a header.
func (f *KafkaForwarder) Handle(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		f.logger.Error().Err(err).Str("type", event.Type).Str("key", event.Key).Msg("kafka write failed")
		return err
	}
	f.logger.Debug().Str("type", event.Type).Str("key", event.Key).Msg("event forwarded")
	return nil
}

// Close flushes and closes the writer.
func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
