// Package gateway fans task updates out to connected WebSocket observers.
//
// The gateway subscribes to the event bus for update events and pushes each
// one, encoded once, to every observer registered with its Hub. Observers
// that connect late or fall behind recover state from the task endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

// Config configures the gateway.
type Config struct {
	Observer ObserverConfig
	// AllowedOrigins restricts WebSocket upgrades by Origin header. Empty
	// allows any origin.
	AllowedOrigins []string
}

// Gateway bridges the event bus and the observer hub.
type Gateway struct {
	hub      *Hub
	bus      events.EventBus
	cfg      Config
	upgrader websocket.Upgrader
	clock    timeutil.Provider

	metrics GatewayMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// New creates a Gateway. Call Start to begin consuming updates.
func New(
	hub *Hub,
	bus events.EventBus,
	cfg Config,
	clock timeutil.Provider,
	metrics GatewayMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Gateway {
	g := &Gateway{
		hub:     hub,
		bus:     bus,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		logger:  logger.With("component", "gateway"),
		tracer:  tracer,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(g.cfg.AllowedOrigins, origin) || slices.Contains(g.cfg.AllowedOrigins, "*")
}

// Start subscribes to update events. The subscription lives until ctx ends.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.bus.Subscribe(ctx, events.UpdateEventTypes, g.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe gateway to updates: %w", err)
	}
	g.logger.Info(ctx, "Gateway subscribed to task updates")
	return nil
}

// handleEvent never fails the bus: undecodable events are counted and
// acknowledged so they do not block the partition.
func (g *Gateway) handleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	ctx, span := g.tracer.Start(ctx, "gateway.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.String("key", evt.Key),
		))
	defer span.End()
	defer ack(nil)

	g.metrics.IncMessagesReceived(ctx, string(evt.Type))

	u, ok := evt.Payload.(progress.Update)
	if !ok {
		err := fmt.Errorf("unexpected payload %T for %s", evt.Payload, evt.Type)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected payload")
		g.metrics.IncTranslationErrors(ctx, "outgoing")
		g.logger.Error(ctx, "Dropping event", "event_type", evt.Type, "error", err)
		return nil
	}

	g.Broadcast(ctx, u)
	return nil
}

// Broadcast encodes u once and hands it to every observer.
func (g *Gateway) Broadcast(ctx context.Context, u progress.Update) int {
	msg, err := json.Marshal(u)
	if err != nil {
		g.metrics.IncTranslationErrors(ctx, "outgoing")
		g.logger.Error(ctx, "Failed to encode update", "task_id", u.TaskID, "error", err)
		return 0
	}

	delivered := g.hub.Broadcast(ctx, msg)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("observers", delivered))
	g.metrics.IncMessagesSent(ctx, string(u.Type))
	return delivered
}

// ServeWS upgrades the request and serves the observer until it disconnects.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Warn(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	lc := logger.NewLoggerContext(g.logger.With("observer_id", id)).
		Add("remote_addr", r.RemoteAddr)

	ctx, span := g.tracer.Start(r.Context(), "gateway.serve_observer",
		trace.WithAttributes(attribute.String("observer_id", id)))
	defer span.End()

	o := NewObserver(id, conn, g.cfg.Observer, g.clock, g.logger, g.tracer)
	g.hub.Register(ctx, o)
	lc.Info(ctx, "Observer connected", "observers", g.hub.Count())

	err = o.Run(ctx)
	g.hub.unregister(context.WithoutCancel(ctx), id, o)

	if err != nil {
		span.RecordError(err)
		lc.Add("error", err)
	}
	lc.Done(ctx, "Observer disconnected")
}

// Hub returns the gateway's observer hub.
func (g *Gateway) Hub() *Hub { return g.hub }
