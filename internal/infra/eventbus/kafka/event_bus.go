// Package kafka provides a Kafka-based implementation of the event bus for asynchronous messaging.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/curation-progress/internal/infra/eventbus/serialization"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

// EventBusMetrics defines metrics operations needed to monitor Kafka message handling.
// It enables tracking of successful and failed message publishing/consumption.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// EventBusConfig contains settings for routing events to Kafka topics.
type EventBusConfig struct {
	// ProgressTopic carries task_progress, task_completed and task_failed updates.
	ProgressTopic string
	// JobsTopic carries jobs submitted to the execution layer.
	JobsTopic string

	// GroupID identifies the consumer group for this bus. Fan-out gateways use
	// a group per instance so every instance sees every update; workers share
	// one group so each job runs once.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string

	// ServiceType identifies the type of service (e.g., "server", "worker").
	ServiceType string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements the EventBus interface using Kafka as the underlying message broker.
// It handles publishing and subscribing to domain events across distributed services.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	// Maps domain event types to their Kafka topics
	topicMap map[events.EventType]string

	closeOnce sync.Once

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBus wires an already connected producer and consumer group into an EventBus.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *EventBusConfig,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka event bus")
	}
	if cfg.ProgressTopic == "" || cfg.JobsTopic == "" {
		return nil, fmt.Errorf("progress and jobs topics are required")
	}

	logger = logger.With(
		"component", "kafka_event_bus",
		"client_id", cfg.ClientID,
		"group_id", cfg.GroupID,
		"service_type", cfg.ServiceType,
	)

	topicMap := map[events.EventType]string{
		events.EventTypeTaskProgressed: cfg.ProgressTopic, // worker -> gateways
		events.EventTypeTaskCompleted:  cfg.ProgressTopic, // worker -> gateways
		events.EventTypeTaskFailed:     cfg.ProgressTopic, // worker -> gateways
		events.EventTypeJobSubmitted:   cfg.JobsTopic,     // api -> workers
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topicMap:      topicMap,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
	}, nil
}

// Publish sends a domain event to the Kafka topic mapped to its type.
// It handles serialization, routing based on event type, and includes
// observability instrumentation for tracing and metrics.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := b.topicMap[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, b.tracer)
	defer span.End()

	pParams := events.ApplyOptions(opts...)
	if pParams.Key != "" {
		event.Key = pParams.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}

	msgBytes, err := serialization.SerializeEventEnvelope(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize event")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	if err := b.publishToTopic(ctx, topic, event.Key, msgBytes, pParams.Headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish")
		return err
	}

	return nil
}

// publishToTopic handles the actual publishing of a message to a single Kafka topic
func (b *EventBus) publishToTopic(ctx context.Context, topic, key string, msgBytes []byte, headers map[string]string) error {
	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	for k, v := range headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	tracing.InjectTraceContext(ctx, kafkaMsg)

	partition, offset, err := b.producer.SendMessage(kafkaMsg)
	if err != nil {
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}

	b.metrics.IncMessagePublished(ctx, topic)

	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", key,
	)

	return nil
}

// Subscribe registers a handler function to process domain events from specified event types.
// It manages consumer group membership and message processing in a separate goroutine.
func (b *EventBus) Subscribe(
	ctx context.Context,
	eventTypes []events.EventType,
	handler events.HandlerFunc,
) error {
	ctx, span := b.tracer.Start(ctx, "kafka_event_bus.subscribe",
		trace.WithAttributes(
			attribute.String("component", "kafka_event_bus"),
		))
	defer span.End()

	// Collect unique topics for the requested event types.
	var topics []string
	topicSet := make(map[string]struct{})
	for _, et := range eventTypes {
		topic, ok := b.topicMap[et]
		if !ok {
			span.RecordError(fmt.Errorf("subscribe: unknown event type %s", et))
			span.SetStatus(codes.Error, "unknown event type")
			return fmt.Errorf("subscribe: unknown event type %s", et)
		}
		if _, seen := topicSet[topic]; seen {
			continue
		}
		topicSet[topic] = struct{}{}
		topics = append(topics, topic)
	}

	span.AddEvent("topics_collected", trace.WithAttributes(attribute.StringSlice("topics", topics)))

	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		wanted[et] = struct{}{}
	}

	go b.consumeLoop(ctx, topics, wanted, handler)
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)

	return nil
}

// consumeLoop maintains a continuous consumer group session for processing messages.
func (b *EventBus) consumeLoop(
	ctx context.Context,
	topics []string,
	wanted map[events.EventType]struct{},
	handler events.HandlerFunc,
) {
	cgHandler := &domainEventHandler{
		userHandler: handler,
		wanted:      wanted,
		logger:      b.logger,
		tracer:      b.tracer,
		metrics:     b.metrics,
	}

	for {
		if err := b.consumerGroup.Consume(ctx, topics, cgHandler); err != nil {
			b.logger.Error(ctx, "Error from consumer group", "error", err)
			if ctx.Err() == nil {
				time.Sleep(time.Second)
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close gracefully shuts down the event bus by closing both producer and consumer connections.
func (b *EventBus) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		logger := b.logger.With("operation", "close")
		ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
		defer span.End()

		if err := b.producer.Close(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to close producer")
			logger.Error(ctx, "Failed to close producer", "error", err)
			closeErr = err
			return
		}
		if err := b.consumerGroup.Close(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to close consumer group")
			logger.Error(ctx, "Failed to close consumer group", "error", err)
			closeErr = err
			return
		}

		span.AddEvent("closed_event_bus")
		span.SetStatus(codes.Ok, "closed event bus")
		logger.Info(ctx, "Closed event bus")
	})
	return closeErr
}
