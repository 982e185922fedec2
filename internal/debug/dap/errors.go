package dap

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by the protocol client.
var (
	// ErrNotConnected is returned when a frame or command is issued while the
	// transport is not connected. Nothing reaches the network.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost is the synthetic failure applied to every pending
	// request when the connection goes away.
	ErrConnectionLost = errors.New("connection lost")

	// ErrTimeout indicates a request deadline expired before its response arrived.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates the caller abandoned a request.
	ErrCancelled = errors.New("request cancelled")

	// ErrProtocol indicates a malformed frame or a failed response.
	ErrProtocol = errors.New("protocol error")

	// ErrClosed indicates the transport was closed explicitly.
	ErrClosed = errors.New("transport closed")
)

// TransportError reports a connect failure or an unexpected close.
// It never ends a session; the transport retries on its own.
type TransportError struct {
	// Op is the operation that failed ("dial", "read", "write").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response with success=false or a frame that could
// not be decoded.
type ProtocolError struct {
	Command string
	// Seq is the request sequence number the error belongs to, or 0 if the
	// frame could not be attributed to a request.
	Seq     int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	switch {
	case e.Command != "" && e.Message != "":
		return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("malformed frame: %v", e.Err)
	case e.Message != "":
		return e.Message
	default:
		return ErrProtocol.Error()
	}
}

// Unwrap returns the underlying decode error, if any.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is reports ErrProtocol as a match.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// TimeoutError reports an expired request deadline.
type TimeoutError struct {
	Command string
	Seq     int
	After   time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (seq %d): no response after %s", e.Command, e.Seq, e.After)
}

// Is reports ErrTimeout as a match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
