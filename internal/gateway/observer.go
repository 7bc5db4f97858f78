package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

// Conn is the subset of *websocket.Conn an Observer needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ObserverConfig tunes a single observer connection.
type ObserverConfig struct {
	// SendBuffer is how many messages may wait for the writer before the
	// observer is considered too slow and dropped.
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
	// InboundRate and InboundBurst bound client frames per second.
	InboundRate  rate.Limit
	InboundBurst int
}

// DefaultObserverConfig returns the settings used when none are supplied.
func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{
		SendBuffer:   64,
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingPeriod:   54 * time.Second,
		ReadLimit:    4096,
		InboundRate:  5,
		InboundBurst: 10,
	}
}

func (c ObserverConfig) withDefaults() ObserverConfig {
	d := DefaultObserverConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.InboundRate <= 0 {
		c.InboundRate = d.InboundRate
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = d.InboundBurst
	}
	return c
}

var errInboundRateExceeded = errors.New("inbound rate exceeded")

// Observer is one connected client. Messages are written by a single
// goroutine in the order they were enqueued.
type Observer struct {
	ID        string
	Connected time.Time

	conn    Conn
	cfg     ObserverConfig
	send    chan []byte
	limiter *rate.Limiter

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	logger *logger.Logger
	tracer trace.Tracer
}

// NewObserver wraps conn. Call Run to start pumping messages.
func NewObserver(
	id string,
	conn Conn,
	cfg ObserverConfig,
	clock timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Observer {
	cfg = cfg.withDefaults()
	return &Observer{
		ID:        id,
		Connected: clock.Now(),
		conn:      conn,
		cfg:       cfg,
		send:      make(chan []byte, cfg.SendBuffer),
		limiter:   rate.NewLimiter(cfg.InboundRate, cfg.InboundBurst),
		done:      make(chan struct{}),
		logger:    logger.With("component", "observer", "observer_id", id),
		tracer:    tracer,
	}
}

// Enqueue hands msg to the writer without blocking. It reports false when the
// buffer is full or the observer is closed.
func (o *Observer) Enqueue(msg []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	select {
	case o.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops both pumps. It is safe to call more than once.
func (o *Observer) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		close(o.done)
	})
}

// Done is closed once the observer stops.
func (o *Observer) Done() <-chan struct{} { return o.done }

// Run pumps messages until the client disconnects, ctx ends, or Close is
// called. It closes the underlying connection before returning.
func (o *Observer) Run(ctx context.Context) error {
	writeErr := make(chan error, 1)
	go func() { writeErr <- o.writePump(ctx) }()

	readErr := o.readPump()
	o.Close()
	werr := <-writeErr
	_ = o.conn.Close()

	if errors.Is(readErr, errInboundRateExceeded) {
		return readErr
	}
	if werr != nil {
		return werr
	}
	if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		return readErr
	}
	return nil
}

func (o *Observer) writePump(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				o.Close()
				// Unblock the reader.
				_ = o.conn.Close()
				return err
			}

		case <-ticker.C:
			if err := o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(o.cfg.WriteWait)); err != nil {
				o.Close()
				_ = o.conn.Close()
				return err
			}

		case <-ctx.Done():
			o.Close()
			o.closeFrame(websocket.CloseGoingAway, "server shutting down")
			return nil

		case <-o.done:
			o.closeFrame(websocket.CloseNormalClosure, "")
			return nil
		}
	}
}

// closeFrame sends a close frame and closes the connection so the reader
// returns.
func (o *Observer) closeFrame(code int, text string) {
	_ = o.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(o.cfg.WriteWait))
	_ = o.conn.Close()
}

func (o *Observer) readPump() error {
	o.conn.SetReadLimit(o.cfg.ReadLimit)
	_ = o.conn.SetReadDeadline(time.Now().Add(o.cfg.PongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(o.cfg.PongWait))
	})

	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return err
		}
		if !o.limiter.Allow() {
			o.logger.Warn(context.Background(), "Observer exceeded inbound rate, disconnecting")
			_ = o.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(o.cfg.WriteWait))
			return errInboundRateExceeded
		}
		// Any client frame counts as keep-alive.
		_ = o.conn.SetReadDeadline(time.Now().Add(o.cfg.PongWait))
	}
}
