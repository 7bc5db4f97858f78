package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

// mockGatewayMetrics records connection counts for assertions.
type mockGatewayMetrics struct {
	connected       atomic.Int64
	slowDisconnects atomic.Int64
	sent            atomic.Int64
	received        atomic.Int64
	translationErrs atomic.Int64
}

func (m *mockGatewayMetrics) IncConnectedObservers(context.Context)      { m.connected.Add(1) }
func (m *mockGatewayMetrics) DecConnectedObservers(context.Context)      { m.connected.Add(-1) }
func (m *mockGatewayMetrics) SetConnectedObservers(context.Context, int) {}
func (m *mockGatewayMetrics) IncSlowObserverDisconnects(context.Context) { m.slowDisconnects.Add(1) }
func (m *mockGatewayMetrics) IncMessagesSent(context.Context, string)    { m.sent.Add(1) }
func (m *mockGatewayMetrics) IncMessagesReceived(context.Context, string) {
	m.received.Add(1)
}
func (m *mockGatewayMetrics) IncTranslationErrors(context.Context, string) {
	m.translationErrs.Add(1)
}

var errConnClosed = errors.New("connection closed")

// fakeConn is an in-memory Conn. Frames pushed to reads are returned by
// ReadMessage; writes are recorded in order.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte

	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	writeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.reads:
		return 1, msg, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func newTestObserver(id string, conn Conn, buffer int) *Observer {
	cfg := DefaultObserverConfig()
	cfg.SendBuffer = buffer
	return NewObserver(id, conn, cfg, timeutil.Default(), logger.Noop(), testTracer)
}

func TestHubRegisterUnregister(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics := new(mockGatewayMetrics)
	hub := NewHub(metrics, logger.Noop())

	a := newTestObserver("a", newFakeConn(), 4)
	b := newTestObserver("b", newFakeConn(), 4)
	hub.Register(ctx, a)
	hub.Register(ctx, b)
	assert.Equal(t, 2, hub.Count())
	assert.EqualValues(t, 2, metrics.connected.Load())

	assert.True(t, hub.Unregister(ctx, "a"))
	assert.False(t, hub.Unregister(ctx, "a"))
	assert.Equal(t, 1, hub.Count())
	assert.EqualValues(t, 1, metrics.connected.Load())
}

func TestHubRegisterReplacesSameID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hub := NewHub(new(mockGatewayMetrics), logger.Noop())

	first := newTestObserver("a", newFakeConn(), 4)
	second := newTestObserver("a", newFakeConn(), 4)
	hub.Register(ctx, first)
	hub.Register(ctx, second)

	assert.Equal(t, 1, hub.Count())
	select {
	case <-first.Done():
	default:
		t.Fatal("replaced observer was not closed")
	}

	// The replaced observer's cleanup must not evict its successor.
	assert.False(t, hub.unregister(ctx, "a", first))
	assert.Equal(t, 1, hub.Count())
}

func TestHubBroadcastPreservesOrderPerObserver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hub := NewHub(new(mockGatewayMetrics), logger.Noop())

	const n = 50
	observers := make([]*Observer, 3)
	for i := range observers {
		observers[i] = newTestObserver(fmt.Sprintf("obs-%d", i), newFakeConn(), n)
		hub.Register(ctx, observers[i])
	}

	for i := range n {
		assert.Equal(t, len(observers), hub.Broadcast(ctx, []byte(fmt.Sprintf("msg-%03d", i))))
	}

	for _, o := range observers {
		for i := range n {
			assert.Equal(t, fmt.Sprintf("msg-%03d", i), string(<-o.send))
		}
	}
}

func TestHubDisconnectsSlowObserver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics := new(mockGatewayMetrics)
	hub := NewHub(metrics, logger.Noop())

	fast := newTestObserver("fast", newFakeConn(), 8)
	slow := newTestObserver("slow", newFakeConn(), 1)
	hub.Register(ctx, fast)
	hub.Register(ctx, slow)

	assert.Equal(t, 2, hub.Broadcast(ctx, []byte("one")))
	assert.Equal(t, 1, hub.Broadcast(ctx, []byte("two")))

	assert.Equal(t, 1, hub.Count())
	assert.EqualValues(t, 1, metrics.slowDisconnects.Load())
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow observer was not closed")
	}
	assert.False(t, slow.Enqueue([]byte("three")))
	assert.True(t, fast.Enqueue([]byte("three")))
}

func TestObserverRunWritesInOrder(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	o := newTestObserver("a", conn, 16)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	want := []string{"1", "2", "3", "4"}
	for _, m := range want {
		require.True(t, o.Enqueue([]byte(m)))
	}

	require.Eventually(t, func() bool { return len(conn.written()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, conn.written())

	// Client goes away.
	require.NoError(t, conn.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after disconnect")
	}
	assert.False(t, o.Enqueue([]byte("late")))
}

func TestObserverStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	o := newTestObserver("a", conn, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestObserverEnforcesInboundRate(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	cfg := DefaultObserverConfig()
	cfg.InboundRate = 1
	cfg.InboundBurst = 2
	o := NewObserver("a", conn, cfg, timeutil.Default(), logger.Noop(), testTracer)

	for range 5 {
		conn.reads <- []byte("ping")
	}

	err := o.Run(context.Background())
	assert.ErrorIs(t, err, errInboundRateExceeded)
}
