// Package dap implements the client side of a debug-adapter style protocol:
// a reconnecting transport, a request dispatcher that correlates responses
// by sequence number, and an event router.
package dap

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultReconnectDelay is the pause between an unexpected close and the
// next connection attempt.
const DefaultReconnectDelay = 3000 * time.Millisecond

// Status is the connection status of a Transport.
type Status int

const (
	// StatusDisconnected means there is no connection and no attempt in progress.
	StatusDisconnected Status = iota
	// StatusConnecting means a connection attempt is in progress.
	StatusConnecting
	// StatusConnected means frames can be sent.
	StatusConnected
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StatusChange describes one transition of the transport state machine.
type StatusChange struct {
	Old Status
	New Status
	// Err is the cause of a failed attempt or an unexpected close.
	Err error
	// Explicit is set when the change was caused by Close(true).
	Explicit bool
}

// Lost reports whether the change ends an established connection.
func (c StatusChange) Lost() bool {
	return c.Old == StatusConnected && c.New == StatusDisconnected
}

// StatusHandler observes transport status changes.
type StatusHandler func(StatusChange)

// Conn is one established duplex connection carrying whole frames.
type Conn interface {
	// ReadFrame blocks until the next frame arrives.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one frame.
	WriteFrame(frame []byte) error

	// Close closes the connection, unblocking ReadFrame.
	Close() error
}

// Dialer opens connections to the debug server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithReconnectDelay sets the delay before reconnecting after an unexpected close.
func WithReconnectDelay(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.reconnectDelay = d
		}
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transport owns the connection lifecycle and reconnects automatically
// after an unexpected close.
type Transport struct {
	dialer         Dialer
	reconnectDelay time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	status   Status
	conn     Conn
	gen      uint64 // bumped for every connection, so stale readers can tell
	explicit bool
	timer    *time.Timer

	handlersMu sync.RWMutex
	onMessage  func([]byte)
	handlers   []statusEntry
	nextID     int

	writeMu sync.Mutex
}

type statusEntry struct {
	id int
	fn StatusHandler
}

// NewTransport creates a disconnected transport using dialer.
func NewTransport(dialer Dialer, opts ...TransportOption) *Transport {
	t := &Transport{
		dialer:         dialer,
		reconnectDelay: DefaultReconnectDelay,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "transport")
	return t
}

// Status returns the current connection status.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// OnMessage registers the inbound frame callback. It runs on the reader
// goroutine, once per frame, in arrival order.
func (t *Transport) OnMessage(handler func([]byte)) {
	t.handlersMu.Lock()
	t.onMessage = handler
	t.handlersMu.Unlock()
}

// OnStatus registers a status observer. Observers run synchronously in
// registration order, and the Connected notification is delivered before
// the reader starts, so an observer must not wait on connection I/O. The
// returned function removes the observer.
func (t *Transport) OnStatus(handler StatusHandler) func() {
	t.handlersMu.Lock()
	t.nextID++
	id := t.nextID
	t.handlers = append(t.handlers, statusEntry{id: id, fn: handler})
	t.handlersMu.Unlock()

	return func() {
		t.handlersMu.Lock()
		defer t.handlersMu.Unlock()
		for i, h := range t.handlers {
			if h.id == id {
				t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
				return
			}
		}
	}
}

// Connect starts a connection attempt. It is a no-op while an attempt is
// in progress or a connection is established. A failed attempt is
// returned as a *TransportError and retried after the reconnect delay.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.explicit = false
	if t.status != StatusDisconnected {
		t.mu.Unlock()
		return nil
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	return t.dial(ctx)
}

func (t *Transport) dial(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusDisconnected || t.explicit {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusConnecting
	t.mu.Unlock()
	t.notify(StatusChange{Old: StatusDisconnected, New: StatusConnecting})

	conn, err := t.dialer.Dial(ctx)

	t.mu.Lock()
	if err != nil {
		t.status = StatusDisconnected
		explicit := t.explicit
		t.mu.Unlock()

		terr := &TransportError{Op: "dial", Err: err}
		t.logger.Warn("connection attempt failed", "error", err)
		t.notify(StatusChange{Old: StatusConnecting, New: StatusDisconnected, Err: terr, Explicit: explicit})
		t.scheduleReconnect()
		return terr
	}
	if t.explicit {
		// Closed while dialing.
		t.status = StatusDisconnected
		t.mu.Unlock()
		_ = conn.Close()
		t.notify(StatusChange{Old: StatusConnecting, New: StatusDisconnected, Err: ErrClosed, Explicit: true})
		return ErrClosed
	}
	t.gen++
	gen := t.gen
	t.conn = conn
	t.status = StatusConnected
	t.mu.Unlock()

	t.logger.Info("connected")
	t.notify(StatusChange{Old: StatusConnecting, New: StatusConnected})

	go t.readLoop(conn, gen)
	return nil
}

// readLoop delivers frames until the connection fails.
func (t *Transport) readLoop(conn Conn, gen uint64) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			t.lost(gen, err)
			return
		}

		t.handlersMu.RLock()
		handler := t.onMessage
		t.handlersMu.RUnlock()

		if handler != nil {
			handler(frame)
		}
	}
}

// lost handles the end of connection gen as seen by its reader.
func (t *Transport) lost(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen || t.conn == nil {
		// Already torn down by Close.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.status = StatusDisconnected
	explicit := t.explicit
	t.mu.Unlock()

	terr := &TransportError{Op: "read", Err: err}
	t.logger.Warn("connection closed unexpectedly", "error", err)
	t.notify(StatusChange{Old: StatusConnected, New: StatusDisconnected, Err: terr, Explicit: explicit})
	t.scheduleReconnect()
}

// scheduleReconnect arms a single reconnect timer unless reconnection is
// suppressed or already pending.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.explicit || t.timer != nil || t.status != StatusDisconnected {
		return
	}

	t.logger.Info("reconnect scheduled", "delay", t.reconnectDelay)
	t.timer = time.AfterFunc(t.reconnectDelay, func() {
		t.mu.Lock()
		t.timer = nil
		t.mu.Unlock()
		_ = t.dial(context.Background())
	})
}

// Send transmits one serialized frame.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	if t.status != StatusConnected || t.conn == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.WriteFrame(frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close tears down the connection. With explicit set, automatic
// reconnection is suppressed until the next Connect; otherwise the close
// is treated like a dropped connection and a reconnect is scheduled.
func (t *Transport) Close(explicit bool) error {
	t.mu.Lock()
	if explicit {
		t.explicit = true
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	conn := t.conn
	old := t.status
	t.conn = nil
	if conn != nil {
		t.status = StatusDisconnected
	}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	change := StatusChange{Old: old, New: StatusDisconnected, Explicit: explicit}
	if !explicit {
		change.Err = &TransportError{Op: "close", Err: ErrConnectionLost}
	}
	t.notify(change)
	if !explicit {
		t.scheduleReconnect()
	}
	return err
}

func (t *Transport) notify(change StatusChange) {
	t.handlersMu.RLock()
	handlers := make([]statusEntry, len(t.handlers))
	copy(handlers, t.handlers)
	t.handlersMu.RUnlock()

	for _, h := range handlers {
		h.fn(change)
	}
}
