package dap

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// ReconnectDelay is the pause before reconnecting. Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// RequestTimeout is the default per-request deadline. Zero means none.
	RequestTimeout time.Duration

	// Logger receives protocol diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Client ties a Transport, Dispatcher and Router together: outbound
// requests go through the dispatcher, inbound frames are decoded and
// routed to the dispatcher (responses) or the router (events) in arrival
// order.
type Client struct {
	transport  *Transport
	dispatcher *Dispatcher
	router     *Router
	logger     *slog.Logger
}

// NewClient creates a client that connects through dialer.
func NewClient(dialer Dialer, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := NewTransport(dialer,
		WithReconnectDelay(opts.ReconnectDelay),
		WithTransportLogger(logger),
	)
	dispatcher := NewDispatcher(transport,
		WithDefaultTimeout(opts.RequestTimeout),
		WithDispatcherLogger(logger),
	)

	c := &Client{
		transport:  transport,
		dispatcher: dispatcher,
		router:     NewRouter(),
		logger:     logger.With("component", "client"),
	}

	// The dispatcher observes status first so pending requests are
	// rejected before anyone else hears about a lost connection.
	transport.OnStatus(dispatcher.HandleStatus)
	transport.OnMessage(c.handleFrame)
	return c
}

// Connect starts connecting to the debug server.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Close closes the connection. With explicit set, reconnection is suppressed.
func (c *Client) Close(explicit bool) error {
	return c.transport.Close(explicit)
}

// Status returns the transport status.
func (c *Client) Status() Status {
	return c.transport.Status()
}

// OnStatus registers a transport status observer.
func (c *Client) OnStatus(handler StatusHandler) func() {
	return c.transport.OnStatus(handler)
}

// On registers an event handler.
func (c *Client) On(event string, handler EventHandler) func() {
	return c.router.On(event, handler)
}

// OnAny registers a handler for all events.
func (c *Client) OnAny(handler EventHandler) func() {
	return c.router.OnAny(handler)
}

// Go issues a request without waiting.
func (c *Client) Go(command string, args any, opts ...CallOption) (*Call, error) {
	return c.dispatcher.Go(command, args, opts...)
}

// Do issues a request and waits for its response.
func (c *Client) Do(ctx context.Context, command string, args any, opts ...CallOption) (json.RawMessage, error) {
	return c.dispatcher.Do(ctx, command, args, opts...)
}

// Cancel abandons a pending call.
func (c *Client) Cancel(call *Call, cause error) bool {
	return c.dispatcher.Cancel(call, cause)
}

// Dispatcher returns the request dispatcher.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// handleFrame decodes one inbound frame and routes it.
func (c *Client) handleFrame(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) && perr.Seq != 0 {
			if c.dispatcher.Reject(perr.Seq, perr) {
				c.logger.Warn("malformed response rejected its request", "request_seq", perr.Seq, "error", err)
				return
			}
		}
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch f := frame.(type) {
	case *Response:
		c.dispatcher.HandleResponse(f)
	case *Event:
		if !c.router.Dispatch(f) {
			c.logger.Debug("no handler for event", "event", f.Event)
		}
	case *Request:
		c.logger.Debug("ignoring reverse request", "command", f.Command, "seq", f.Seq)
	}
}
