// Package daptest provides scripted fake debug servers for tests: an
// in-memory adapter implementing dap.Dialer, and a WebSocket server that
// speaks the same frames over a real socket.
package daptest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"

	"github.com/magi8101/ariadbg/internal/debug/dap"
)

// Wait bounds every blocking helper in this package.
const Wait = 2 * time.Second

// ErrDialRefused is returned by Adapter.Dial while failures are queued.
var ErrDialRefused = errors.New("connection refused")

// ServerConn is the server side of one client connection.
type ServerConn struct {
	toServer chan []byte
	toClient chan []byte
	done     chan struct{}
	once     sync.Once
	onClose  func()
}

func newServerConn() *ServerConn {
	return &ServerConn{
		toServer: make(chan []byte, 64),
		toClient: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// Closed is closed when either side closes the connection.
func (c *ServerConn) Closed() <-chan struct{} {
	return c.done
}

func (c *ServerConn) close() {
	c.once.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// Drop closes the connection from the server side, as a crash would.
func (c *ServerConn) Drop() {
	c.close()
}

// Next waits for the next request from the client.
func (c *ServerConn) Next(t testing.TB) *dap.Request {
	t.Helper()
	select {
	case frame := <-c.toServer:
		var req dap.Request
		require.NoError(t, json.Unmarshal(frame, &req), "decode request %s", frame)
		require.Equal(t, dap.TypeRequest, req.Type)
		return &req
	case <-c.done:
		t.Fatalf("connection closed while waiting for a request")
	case <-time.After(Wait):
		t.Fatalf("no request within %s", Wait)
	}
	return nil
}

// Expect waits for the next request and checks its command.
func (c *ServerConn) Expect(t testing.TB, command string) *dap.Request {
	t.Helper()
	req := c.Next(t)
	require.Equal(t, command, req.Command, "unexpected command (seq %d)", req.Seq)
	return req
}

// NoRequest asserts the client sends nothing for d.
func (c *ServerConn) NoRequest(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case frame := <-c.toServer:
		t.Fatalf("unexpected request: %s", frame)
	case <-time.After(d):
	}
}

// Respond answers req successfully with body (may be nil).
func (c *ServerConn) Respond(t testing.TB, req *dap.Request, body any) {
	t.Helper()
	c.Send(t, ResponseFrame(t, req.Seq, req.Command, true, "", body))
}

// Fail answers req with success=false and message.
func (c *ServerConn) Fail(t testing.TB, req *dap.Request, message string) {
	t.Helper()
	c.Send(t, ResponseFrame(t, req.Seq, req.Command, false, message, nil))
}

// Emit sends an event.
func (c *ServerConn) Emit(t testing.TB, event string, body any) {
	t.Helper()
	c.Send(t, EventFrame(t, event, body))
}

// Send delivers a raw frame to the client.
func (c *ServerConn) Send(t testing.TB, frame []byte) {
	t.Helper()
	select {
	case c.toClient <- frame:
	case <-c.done:
		t.Fatalf("connection closed while sending %s", frame)
	case <-time.After(Wait):
		t.Fatalf("client not reading frames")
	}
}

// ResponseFrame builds a response frame.
func ResponseFrame(t testing.TB, requestSeq int, command string, success bool, message string, body any) []byte {
	t.Helper()
	frame := []byte(`{"type":"response"}`)
	var err error
	frame, err = sjson.SetBytes(frame, "request_seq", requestSeq)
	require.NoError(t, err)
	frame, err = sjson.SetBytes(frame, "success", success)
	require.NoError(t, err)
	if command != "" {
		frame, err = sjson.SetBytes(frame, "command", command)
		require.NoError(t, err)
	}
	if message != "" {
		frame, err = sjson.SetBytes(frame, "message", message)
		require.NoError(t, err)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		frame, err = sjson.SetRawBytes(frame, "body", raw)
		require.NoError(t, err)
	}
	return frame
}

// EventFrame builds an event frame.
func EventFrame(t testing.TB, event string, body any) []byte {
	t.Helper()
	frame, err := sjson.SetBytes([]byte(`{"type":"event"}`), "event", event)
	require.NoError(t, err)
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		frame, err = sjson.SetRawBytes(frame, "body", raw)
		require.NoError(t, err)
	}
	return frame
}

// DecodeArgs unmarshals the request arguments into v.
func DecodeArgs(t testing.TB, req *dap.Request, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(req.Arguments, v), "decode %s arguments", req.Command)
}

// Adapter is an in-memory debug server. It implements dap.Dialer; each
// successful Dial produces a ServerConn retrievable with Accept.
type Adapter struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    chan *ServerConn
}

// NewAdapter creates an adapter that accepts every dial.
func NewAdapter() *Adapter {
	return &Adapter{conns: make(chan *ServerConn, 16)}
}

// FailNextDials makes the next n dials fail with ErrDialRefused.
func (a *Adapter) FailNextDials(n int) {
	a.mu.Lock()
	a.failures = n
	a.mu.Unlock()
}

// Dials returns the number of dial attempts so far.
func (a *Adapter) Dials() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dials
}

// Dial implements dap.Dialer.
func (a *Adapter) Dial(ctx context.Context) (dap.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.dials++
	if a.failures > 0 {
		a.failures--
		a.mu.Unlock()
		return nil, ErrDialRefused
	}
	a.mu.Unlock()

	sc := newServerConn()
	a.conns <- sc
	return &memConn{s: sc}, nil
}

// Accept waits for the next established connection.
func (a *Adapter) Accept(t testing.TB) *ServerConn {
	t.Helper()
	select {
	case sc := <-a.conns:
		return sc
	case <-time.After(Wait):
		t.Fatalf("no connection within %s", Wait)
	}
	return nil
}

// memConn is the client side of an in-memory connection.
type memConn struct {
	s *ServerConn
}

func (c *memConn) ReadFrame() ([]byte, error) {
	// Drain frames sent before a drop so ordering tests stay deterministic.
	select {
	case frame := <-c.s.toClient:
		return frame, nil
	default:
	}
	select {
	case frame := <-c.s.toClient:
		return frame, nil
	case <-c.s.done:
		return nil, io.EOF
	}
}

func (c *memConn) WriteFrame(frame []byte) error {
	select {
	case <-c.s.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.s.toServer <- frame:
		return nil
	case <-c.s.done:
		return io.ErrClosedPipe
	}
}

func (c *memConn) Close() error {
	c.s.close()
	return nil
}
