package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"kitchenledger/internal/logger"
)

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	logger.Logger.Info().Strs("brokers", brokers).Str("topic", topic).Msg("kafka publisher initialized")
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish sends event keyed by event.Key so that all events of one inventory
// item or recipe land on the same partition. The trace context of ctx travels
// in the message headers.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	ctx, span := otel.Tracer("kitchenledger/events").Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", p.topic),
			attribute.String("event.type", event.Type),
			attribute.String("event.id", event.ID),
		),
	)
	defer span.End()

	body, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal event")
		return fmt.Errorf("marshal event: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := []sarama.RecordHeader{
		{Key: []byte("event_type"), Value: []byte(event.Type)},
		{Key: []byte("event_id"), Value: []byte(event.ID)},
	}
	for key, value := range carrier {
		headers = append(headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
	}

	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(event.Key),
		Value:   sarama.ByteEncoder(body),
		Headers: headers,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send message")
		return fmt.Errorf("send event %s: %w", event.ID, err)
	}

	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", int(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	logger.Debug(ctx).
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("ledger event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
