package dap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	godap "github.com/google/go-dap"
)

// StreamDialer connects over TCP using the Content-Length framed base
// protocol spoken by stdio/socket debug adapters.
type StreamDialer struct {
	// Address is host:port of the adapter.
	Address string
}

// Dial opens a TCP connection.
func (d *StreamDialer) Dial(ctx context.Context) (Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Address, err)
	}
	return NewStreamConn(conn), nil
}

// StreamConn frames messages with Content-Length headers over any
// io.ReadWriteCloser (socket, pipe, subprocess stdio).
type StreamConn struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewStreamConn wraps rwc.
func NewStreamConn(rwc io.ReadWriteCloser) *StreamConn {
	return &StreamConn{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// ReadFrame reads the next framed message body.
func (c *StreamConn) ReadFrame() ([]byte, error) {
	return godap.ReadBaseMessage(c.reader)
}

// WriteFrame writes frame with its Content-Length header.
func (c *StreamConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return godap.WriteBaseMessage(c.rwc, frame)
}

// Close closes the underlying stream.
func (c *StreamConn) Close() error {
	return c.rwc.Close()
}
