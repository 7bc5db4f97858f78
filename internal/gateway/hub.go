package gateway

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/pkg/common/logger"
)

// Hub holds the observers connected to this instance.
//
// Broadcast never waits on an observer: messages are placed on each
// observer's send buffer, and an observer whose buffer is full is removed and
// closed. Clients recover missed history through the task endpoints.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Observer

	metrics GatewayMetrics
	logger  *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(metrics GatewayMetrics, logger *logger.Logger) *Hub {
	return &Hub{
		observers: make(map[string]*Observer),
		metrics:   metrics,
		logger:    logger.With("component", "observer_hub"),
	}
}

// Register adds o. An observer with the same ID is replaced and closed.
func (h *Hub) Register(ctx context.Context, o *Observer) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("observer_id", o.ID))

	h.mu.Lock()
	prev, exists := h.observers[o.ID]
	h.observers[o.ID] = o
	count := len(h.observers)
	h.mu.Unlock()

	if exists {
		span.AddEvent("observer_replaced")
		prev.Close()
	} else {
		h.metrics.IncConnectedObservers(ctx)
	}
	h.metrics.SetConnectedObservers(ctx, count)
	span.AddEvent("observer_registered")
}

// Unregister removes the observer with id. It reports whether one was found.
func (h *Hub) Unregister(ctx context.Context, id string) bool {
	return h.unregister(ctx, id, nil)
}

// unregister removes id only if it still maps to want (any observer when
// want is nil), so a replaced observer cannot evict its successor.
func (h *Hub) unregister(ctx context.Context, id string, want *Observer) bool {
	h.mu.Lock()
	cur, exists := h.observers[id]
	if !exists || (want != nil && cur != want) {
		h.mu.Unlock()
		return false
	}
	delete(h.observers, id)
	count := len(h.observers)
	h.mu.Unlock()

	h.metrics.DecConnectedObservers(ctx)
	h.metrics.SetConnectedObservers(ctx, count)
	return true
}

// Broadcast enqueues msg for every observer and returns how many accepted it.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) int {
	var (
		delivered int
		slow      []*Observer
	)

	h.mu.RLock()
	for _, o := range h.observers {
		if o.Enqueue(msg) {
			delivered++
			continue
		}
		slow = append(slow, o)
	}
	h.mu.RUnlock()

	for _, o := range slow {
		if h.unregister(ctx, o.ID, o) {
			h.metrics.IncSlowObserverDisconnects(ctx)
			h.logger.Warn(ctx, "Disconnecting slow observer", "observer_id", o.ID)
		}
		o.Close()
	}
	return delivered
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// CloseAll closes and removes every observer.
func (h *Hub) CloseAll(ctx context.Context) {
	h.mu.Lock()
	observers := h.observers
	h.observers = make(map[string]*Observer)
	h.mu.Unlock()

	for _, o := range observers {
		o.Close()
		h.metrics.DecConnectedObservers(ctx)
	}
	h.metrics.SetConnectedObservers(ctx, 0)
}
