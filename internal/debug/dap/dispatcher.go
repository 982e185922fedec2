package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// CallState is the outcome of a Call.
type CallState int

const (
	// CallPending means no response has been matched yet.
	CallPending CallState = iota
	// CallFulfilled means the server answered with success=true.
	CallFulfilled
	// CallRejected means the server answered with success=false, the
	// deadline expired, or the connection was lost.
	CallRejected
	// CallCancelled means the caller gave up on the request.
	CallCancelled
)

// String returns a string representation of the state.
func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallFulfilled:
		return "fulfilled"
	case CallRejected:
		return "rejected"
	case CallCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Call is an in-flight request. It resolves exactly once.
type Call struct {
	Seq       int
	Command   string
	Arguments json.RawMessage
	Issued    time.Time
	// Deadline is zero when the request has no timeout.
	Deadline time.Time

	mu       sync.Mutex
	state    CallState
	body     json.RawMessage
	err      error
	done     chan struct{}
	timer    *time.Timer
	callback func(*Call)
}

// Done is closed once the call resolves.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// State returns the current outcome.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the response body and error. Valid after Done is closed.
func (c *Call) Result() (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body, c.err
}

// Err returns the failure, or nil while pending or when fulfilled.
func (c *Call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// resolve settles the call once and runs its callback on the calling goroutine.
func (c *Call) resolve(state CallState, body json.RawMessage, err error) bool {
	c.mu.Lock()
	if c.state != CallPending {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.body = body
	c.err = err
	if c.timer != nil {
		c.timer.Stop()
	}
	cb := c.callback
	close(c.done)
	c.mu.Unlock()

	if cb != nil {
		cb(c)
	}
	return true
}

// DecodeBody unmarshals the body of a fulfilled call into a value of type T.
func DecodeBody[T any](c *Call) (T, error) {
	var out T
	body, err := c.Result()
	if err != nil {
		return out, err
	}
	if len(body) == 0 || string(body) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, &ProtocolError{Command: c.Command, Seq: c.Seq, Message: "decode body", Err: err}
	}
	return out, nil
}

// CallOption configures a single request.
type CallOption func(*callOptions)

type callOptions struct {
	timeout  time.Duration
	callback func(*Call)
}

// WithTimeout sets a deadline for this request, overriding the dispatcher
// default. Zero disables the deadline.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithCallback registers a completion continuation. It runs exactly once,
// on the goroutine that resolved the call (normally the transport reader),
// so it must not block.
func WithCallback(fn func(*Call)) CallOption {
	return func(o *callOptions) {
		o.callback = fn
	}
}

// Sender is the outbound half of a transport.
type Sender interface {
	Send(frame []byte) error
	Status() Status
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDefaultTimeout sets the deadline applied to requests that do not set
// their own. Zero (the default) means no deadline.
func WithDefaultTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.timeout = d
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

// Dispatcher assigns sequence numbers, tracks pending requests and
// resolves each one exactly once.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	seq     int
	pending map[int]*Call
}

// NewDispatcher creates a dispatcher sending through sender.
func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		logger:  slog.Default(),
		pending: make(map[int]*Call),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// SetDefaultTimeout changes the deadline for requests issued from now on.
func (d *Dispatcher) SetDefaultTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
}

// Go issues command and returns the pending call without waiting.
// It fails with ErrNotConnected, before allocating a sequence number, when
// the transport is not connected.
func (d *Dispatcher) Go(command string, args any, opts ...CallOption) (*Call, error) {
	// Servers may reject a request without arguments, so nil becomes {}.
	raw := json.RawMessage(`{}`)
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal %s arguments: %w", command, err)
		}
		raw = b
	}

	d.mu.Lock()
	o := callOptions{timeout: d.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	if d.sender.Status() != StatusConnected {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}

	d.seq++
	call := &Call{
		Seq:       d.seq,
		Command:   command,
		Arguments: raw,
		Issued:    time.Now(),
		done:      make(chan struct{}),
		callback:  o.callback,
	}
	// Registered before sending so a fast response always finds it.
	d.pending[call.Seq] = call
	d.mu.Unlock()

	frame, err := EncodeRequest(call.Seq, command, raw)
	if err == nil {
		err = d.sender.Send(frame)
	}
	if err != nil {
		d.mu.Lock()
		_, stillPending := d.pending[call.Seq]
		delete(d.pending, call.Seq)
		d.mu.Unlock()
		if !stillPending {
			// The connection dropped mid-send and FailAll already rejected it.
			return call, nil
		}
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	if o.timeout > 0 {
		seq := call.Seq
		call.mu.Lock()
		if call.state == CallPending {
			call.Deadline = call.Issued.Add(o.timeout)
			call.timer = time.AfterFunc(o.timeout, func() {
				d.expire(seq, o.timeout)
			})
		}
		call.mu.Unlock()
	}

	d.logger.Debug("request sent", "seq", call.Seq, "command", command)
	return call, nil
}

// Do issues command and waits for its response. Cancelling ctx cancels the call.
func (d *Dispatcher) Do(ctx context.Context, command string, args any, opts ...CallOption) (json.RawMessage, error) {
	call, err := d.Go(command, args, opts...)
	if err != nil {
		return nil, err
	}
	return d.Wait(ctx, call)
}

// Wait blocks until call resolves or ctx is done. In the latter case the
// call is cancelled and removed from the pending table.
func (d *Dispatcher) Wait(ctx context.Context, call *Call) (json.RawMessage, error) {
	select {
	case <-call.Done():
		return call.Result()
	case <-ctx.Done():
		d.Cancel(call, ctx.Err())
		return call.Result()
	}
}

// Cancel resolves call as cancelled if it is still pending.
func (d *Dispatcher) Cancel(call *Call, cause error) bool {
	d.mu.Lock()
	if cur, ok := d.pending[call.Seq]; !ok || cur != call {
		d.mu.Unlock()
		return false
	}
	delete(d.pending, call.Seq)
	d.mu.Unlock()

	err := ErrCancelled
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	return call.resolve(CallCancelled, nil, err)
}

// HandleResponse resolves the pending call matching resp.RequestSeq. A
// response for an unknown, expired or already answered sequence number is
// discarded and false is returned.
func (d *Dispatcher) HandleResponse(resp *Response) bool {
	d.mu.Lock()
	call, ok := d.pending[resp.RequestSeq]
	if ok {
		delete(d.pending, resp.RequestSeq)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("discarding unmatched response", "request_seq", resp.RequestSeq, "command", resp.Command)
		return false
	}

	if resp.Success {
		return call.resolve(CallFulfilled, resp.Body, nil)
	}
	command := resp.Command
	if command == "" {
		command = call.Command
	}
	return call.resolve(CallRejected, resp.Body, &ProtocolError{
		Command: command,
		Seq:     call.Seq,
		Message: resp.Message,
	})
}

// Reject fails the pending call seq with err. Used for malformed responses
// that could still be attributed to a request.
func (d *Dispatcher) Reject(seq int, err error) bool {
	d.mu.Lock()
	call, ok := d.pending[seq]
	if ok {
		delete(d.pending, seq)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	return call.resolve(CallRejected, nil, err)
}

// HandleStatus rejects every pending call with ErrConnectionLost when an
// established connection ends.
func (d *Dispatcher) HandleStatus(change StatusChange) {
	if change.Lost() {
		if n := d.FailAll(ErrConnectionLost); n > 0 {
			d.logger.Info("rejected pending requests", "count", n, "reason", ErrConnectionLost)
		}
	}
}

// FailAll rejects every pending call with err, in issue order, and clears
// the table. It returns the number of calls rejected.
func (d *Dispatcher) FailAll(err error) int {
	d.mu.Lock()
	calls := make([]*Call, 0, len(d.pending))
	for _, c := range d.pending {
		calls = append(calls, c)
	}
	d.pending = make(map[int]*Call)
	d.mu.Unlock()

	sort.Slice(calls, func(i, j int) bool { return calls[i].Seq < calls[j].Seq })
	for _, c := range calls {
		c.resolve(CallRejected, nil, err)
	}
	return len(calls)
}

// Pending returns the number of unresolved requests.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// LastSeq returns the most recently allocated sequence number.
func (d *Dispatcher) LastSeq() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

func (d *Dispatcher) expire(seq int, after time.Duration) {
	d.mu.Lock()
	call, ok := d.pending[seq]
	if ok {
		delete(d.pending, seq)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	d.logger.Warn("request timed out", "seq", seq, "command", call.Command, "after", after)
	call.resolve(CallRejected, nil, &TimeoutError{Command: call.Command, Seq: seq, After: after})
}
