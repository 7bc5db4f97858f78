package kafka

import (
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

const commitInterval = 1 * time.Second

// domainEventHandler implements sarama.ConsumerGroupHandler to process Kafka messages
// and convert them into domain events for the application.
type domainEventHandler struct {
	userHandler events.HandlerFunc
	// wanted filters event types sharing a topic with ones the subscriber asked for.
	wanted map[events.EventType]struct{}

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

func (h *domainEventHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *domainEventHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition in offset order,
// deserializing them into domain events and invoking the user-provided handler.
// Messages of one partition are handed off sequentially, which is what keeps
// updates for a single task in order. Acks may complete on other goroutines;
// offsets are marked through an offsetTracker and committed only from this loop.
func (h *domainEventHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	h.logger.Info(sess.Context(), "Starting to consume from partition",
		"partition", claim.Partition(),
		"member_id", sess.MemberID(),
	)
	consumeLogger := h.logger.With("operation", "consume_claim", "partition", claim.Partition())

	tracker := newOffsetTracker(sess)
	ticker := time.NewTicker(commitInterval)
	defer ticker.Stop()

	finish := func() error {
		tracker.close()
		sess.Commit()
		return nil
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return finish()
			}
			h.handleMessage(sess, claim, msg, consumeLogger, tracker)
		case <-ticker.C:
			sess.Commit()
			consumeLogger.Debug(sess.Context(), "Committed offsets", "outstanding", tracker.outstanding())
		case <-sess.Context().Done():
			return finish()
		}
	}
}

func (h *domainEventHandler) handleMessage(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
	msg *sarama.ConsumerMessage,
	consumeLogger *logger.Logger,
	tracker *offsetTracker,
) {
	tracked := tracker.track(msg)

	msgCtx := tracing.ExtractTraceContext(sess.Context(), msg)
	msgCtx, span := tracing.StartConsumerSpan(msgCtx, msg, h.tracer)
	defer span.End()

	evtType, domainBytes, err := serialization.UnmarshalUniversalEnvelope(msg.Value)
	if err != nil {
		tracker.complete(tracked)
		span.RecordError(err)
		h.metrics.IncConsumeError(msgCtx, msg.Topic)
		consumeLogger.Warn(msgCtx, "Skipping undecodable message", "offset", msg.Offset, "error", err)
		return
	}

	if _, ok := h.wanted[evtType]; !ok {
		tracker.complete(tracked)
		span.AddEvent("event_type_filtered", trace.WithAttributes(attribute.String("event_type", string(evtType))))
		return
	}

	payloadObj, err := serialization.DeserializePayload(evtType, domainBytes)
	if err != nil {
		tracker.complete(tracked)
		span.RecordError(err)
		h.metrics.IncConsumeError(msgCtx, msg.Topic)
		consumeLogger.Warn(msgCtx, "Skipping undecodable payload", "offset", msg.Offset, "error", err)
		return
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	dEvent := events.EventEnvelope{
		Type:      evtType,
		Key:       string(msg.Key),
		Timestamp: ts,
		Payload:   payloadObj,
		Metadata: events.EventMetadata{
			Partition: claim.Partition(),
			Offset:    msg.Offset,
		},
	}

	consumeLogger.Debug(msgCtx, "Received Kafka message",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"event_type", evtType,
		"key", dEvent.Key,
	)

	ack := func(err error) {
		ackCtx, ackSpan := h.tracer.Start(msgCtx, "kafka_consumer.acknowledge",
			trace.WithLinks(trace.LinkFromContext(msgCtx)),
		)
		defer ackSpan.End()

		if err != nil {
			consumeLogger.Error(ackCtx, "Failed to acknowledge message", "error", err)
			h.metrics.IncConsumeError(ackCtx, msg.Topic)
			ackSpan.RecordError(err)
			ackSpan.SetStatus(codes.Error, "failed to acknowledge message")
			return
		}
		h.metrics.IncMessageConsumed(ackCtx, msg.Topic)
		tracker.complete(tracked)
	}

	if err := h.userHandler(msgCtx, dEvent, ack); err != nil {
		consumeLogger.Error(msgCtx, "Failed to handle message", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		return
	}

	consumeLogger.Debug(msgCtx, "Successfully processed message", "topic", msg.Topic)
}
