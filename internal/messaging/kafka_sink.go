// Package messaging adapts the outbox dispatcher to concrete delivery
// transports. KafkaSink publishes each claimed outbox row to the Kafka
// topic its event type maps to; EventBusSink fans the same row out to
// in-process subscribers for components that don't need Kafka's
// durability.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/eventbus"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/outbox"
	"github.com/stateset/commerce-core/internal/reqcontext"
)

// KafkaSink publishes outbox events to Kafka, keyed by aggregate ID so
// all events for one aggregate land on the same partition and preserve
// per-aggregate ordering.
type KafkaSink struct {
	producer sarama.SyncProducer
	logger   zerolog.Logger
	topicMap map[string]string
}

func NewKafkaSink(producer sarama.SyncProducer, logger zerolog.Logger) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		logger:   logger.With().Str("component", "kafka_sink").Logger(),
		topicMap: map[string]string{
			models.AggregateTypeOrder:         "commerce.orders",
			models.AggregateTypeShipment:      "commerce.shipments",
			models.AggregateTypePurchaseOrder: "commerce.purchase_orders",
			models.AggregateTypeReturn:        "commerce.returns",
			models.AggregateTypeInventoryItem: "commerce.inventory",
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, event *models.OutboxEvent) error {
	topic, ok := s.topicMap[event.AggregateType]
	if !ok {
		topic = "commerce.events"
	}

	headers := []sarama.RecordHeader{
		{Key: []byte("event_type"), Value: []byte(event.EventType)},
		{Key: []byte("aggregate_type"), Value: []byte(event.AggregateType)},
	}

	var meta models.WireMetadata
	if event.Metadata != nil {
		_ = json.Unmarshal(event.Metadata, &meta)
	}
	value, err := json.Marshal(models.WirePayload{
		ID: event.ID, AggregateType: event.AggregateType, AggregateID: event.AggregateID,
		EventType: event.EventType, Payload: event.Payload, Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("encode wire payload: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(value),
		Headers: headers,
	}
	if event.AggregateID != nil {
		msg.Key = sarama.StringEncoder(event.AggregateID.String())
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send to kafka: %w", err)
	}

	s.logger.Debug().
		Str("event_type", event.EventType).
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("published outbox event to kafka")
	return nil
}

// EventBusSink republishes a delivered outbox row onto the in-process
// bus, so a local subscriber (a cache invalidator, for instance) sees
// the same events Kafka consumers do without a
// network round trip. Used alongside KafkaSink via a small fan-out Sink
// when both transports are wanted; kept standalone for deployments that
// run without Kafka.
type EventBusSink struct {
	bus *eventbus.Bus
}

func NewEventBusSink(bus *eventbus.Bus) *EventBusSink {
	return &EventBusSink{bus: bus}
}

func (s *EventBusSink) Publish(ctx context.Context, event *models.OutboxEvent) error {
	var aggregateID uuid.UUID
	if event.AggregateID != nil {
		aggregateID = *event.AggregateID
	}
	s.bus.Publish(ctx, eventbus.Event{
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   aggregateID,
		CorrelationID: reqcontext.CorrelationID(ctx),
		OccurredAt:    time.Now(),
		Payload:       event.Payload,
	})
	return nil
}

// FanOutSink delivers to every sink in order, stopping at (and
// returning) the first error so the dispatcher retries the whole event
// rather than risk silently skipping a downstream transport.
type FanOutSink struct {
	sinks []outbox.Sink
}

func NewFanOutSink(sinks ...outbox.Sink) *FanOutSink {
	return &FanOutSink{sinks: sinks}
}

func (s *FanOutSink) Publish(ctx context.Context, event *models.OutboxEvent) error {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
