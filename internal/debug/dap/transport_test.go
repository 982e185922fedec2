package dap_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magi8101/ariadbg/internal/debug/dap"
	"github.com/magi8101/ariadbg/internal/debug/dap/daptest"
)

const testReconnectDelay = 20 * time.Millisecond

// statusLog records every status change a transport reports.
type statusLog struct {
	mu      sync.Mutex
	changes []dap.StatusChange
}

func (l *statusLog) record(c dap.StatusChange) {
	l.mu.Lock()
	l.changes = append(l.changes, c)
	l.mu.Unlock()
}

func (l *statusLog) all() []dap.StatusChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]dap.StatusChange(nil), l.changes...)
}

func (l *statusLog) count(fn func(dap.StatusChange) bool) int {
	n := 0
	for _, c := range l.all() {
		if fn(c) {
			n++
		}
	}
	return n
}

func newTestTransport(t *testing.T, dialer dap.Dialer) (*dap.Transport, *statusLog) {
	t.Helper()
	tr := dap.NewTransport(dialer, dap.WithReconnectDelay(testReconnectDelay))
	log := &statusLog{}
	tr.OnStatus(log.record)
	t.Cleanup(func() { _ = tr.Close(true) })
	return tr, log
}

func waitStatus(t *testing.T, tr *dap.Transport, want dap.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Status() == want },
		daptest.Wait, 5*time.Millisecond, "status never became %s", want)
}

func TestDefaultReconnectDelay(t *testing.T) {
	assert.Equal(t, 3*time.Second, dap.DefaultReconnectDelay)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", dap.StatusDisconnected.String())
	assert.Equal(t, "connecting", dap.StatusConnecting.String())
	assert.Equal(t, "connected", dap.StatusConnected.String())
}

func TestTransportConnectAndSend(t *testing.T) {
	adapter := daptest.NewAdapter()
	tr, log := newTestTransport(t, adapter)

	assert.Equal(t, dap.StatusDisconnected, tr.Status())
	assert.ErrorIs(t, tr.Send([]byte(`{}`)), dap.ErrNotConnected)

	require.NoError(t, tr.Connect(context.Background()))
	sc := adapter.Accept(t)
	assert.Equal(t, dap.StatusConnected, tr.Status())

	changes := log.all()
	require.Len(t, changes, 2)
	assert.Equal(t, dap.StatusConnecting, changes[0].New)
	assert.Equal(t, dap.StatusConnected, changes[1].New)

	frame, err := dap.EncodeRequest(1, dap.CommandPause, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Send(frame))
	req := sc.Expect(t, dap.CommandPause)
	assert.Equal(t, 1, req.Seq)

	// Connecting again while connected does nothing.
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, 1, adapter.Dials())
}

func TestTransportDeliversFramesInOrder(t *testing.T) {
	adapter := daptest.NewAdapter()
	tr, _ := newTestTransport(t, adapter)

	got := make(chan string, 8)
	tr.OnMessage(func(frame []byte) { got <- string(frame) })

	require.NoError(t, tr.Connect(context.Background()))
	sc := adapter.Accept(t)

	sc.Emit(t, dap.EventContinued, nil)
	sc.Emit(t, dap.EventStopped, nil)
	sc.Emit(t, dap.EventOutput, nil)

	for _, want := range []string{dap.EventContinued, dap.EventStopped, dap.EventOutput} {
		select {
		case frame := <-got:
			assert.Contains(t, frame, `"`+want+`"`)
		case <-time.After(daptest.Wait):
			t.Fatalf("missing %s frame", want)
		}
	}
}

func TestTransportReconnectsAfterDrop(t *testing.T) {
	adapter := daptest.NewAdapter()
	tr, log := newTestTransport(t, adapter)

	require.NoError(t, tr.Connect(context.Background()))
	first := adapter.Accept(t)

	first.Drop()
	second := adapter.Accept(t)
	require.NotNil(t, second)
	waitStatus(t, tr, dap.StatusConnected)

	lost := log.count(dap.StatusChange.Lost)
	assert.Equal(t, 1, lost)
	for _, c := range log.all() {
		if c.Lost() {
			var terr *dap.TransportError
			require.True(t, errors.As(c.Err, &terr))
			assert.Equal(t, "read", terr.Op)
			assert.False(t, c.Explicit)
		}
	}
	assert.Equal(t, 2, adapter.Dials())
}

func TestTransportWaitsReconnectDelay(t *testing.T) {
	const delay = 200 * time.Millisecond
	adapter := daptest.NewAdapter()
	tr := dap.NewTransport(adapter, dap.WithReconnectDelay(delay))
	t.Cleanup(func() { _ = tr.Close(true) })

	require.NoError(t, tr.Connect(context.Background()))
	first := adapter.Accept(t)

	dropped := time.Now()
	first.Drop()
	waitStatus(t, tr, dap.StatusDisconnected)

	time.Sleep(time.Until(dropped.Add(delay / 2)))
	assert.Equal(t, 1, adapter.Dials(), "redialed before the delay")
	assert.Equal(t, dap.StatusDisconnected, tr.Status())

	adapter.Accept(t)
	assert.GreaterOrEqual(t, time.Since(dropped), delay)
	assert.Equal(t, 2, adapter.Dials())
}

func TestTransportExplicitCloseSuppressesReconnect(t *testing.T) {
	adapter := daptest.NewAdapter()
	tr, log := newTestTransport(t, adapter)

	require.NoError(t, tr.Connect(context.Background()))
	sc := adapter.Accept(t)

	require.NoError(t, tr.Close(true))
	assert.Equal(t, dap.StatusDisconnected, tr.Status())
	<-sc.Closed()

	time.Sleep(5 * testReconnectDelay)
	assert.Equal(t, 1, adapter.Dials())
	assert.ErrorIs(t, tr.Send([]byte(`{}`)), dap.ErrNotConnected)

	last := log.all()[len(log.all())-1]
	assert.True(t, last.Explicit)
	assert.True(t, last.Lost())

	// Connect re-enables reconnection.
	require.NoError(t, tr.Connect(context.Background()))
	adapter.Accept(t)
	assert.Equal(t, dap.StatusConnected, tr.Status())
}

func TestTransportImplicitCloseReconnects(t *testing.T) {
	adapter := daptest.NewAdapter()
	tr, _ := newTestTransport(t, adapter)

	require.NoError(t, tr.Connect(context.Background()))
	adapter.Accept(t)

	require.NoError(t, tr.Close(false))
	adapter.Accept(t)
	waitStatus(t, tr, dap.StatusConnected)
	assert.Equal(t, 2, adapter.Dials())
}

func TestTransportRetriesFailedDial(t *testing.T) {
	adapter := daptest.NewAdapter()
	adapter.FailNextDials(2)
	tr, log := newTestTransport(t, adapter)

	err := tr.Connect(context.Background())
	var terr *dap.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "dial", terr.Op)
	assert.ErrorIs(t, err, daptest.ErrDialRefused)

	adapter.Accept(t)
	waitStatus(t, tr, dap.StatusConnected)
	assert.Equal(t, 3, adapter.Dials())
	assert.Zero(t, log.count(dap.StatusChange.Lost), "failed attempts never count as a lost connection")
}

func TestTransportCloseStopsPendingRetry(t *testing.T) {
	adapter := daptest.NewAdapter()
	adapter.FailNextDials(1)
	tr, _ := newTestTransport(t, adapter)

	require.Error(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Close(true))

	time.Sleep(5 * testReconnectDelay)
	assert.Equal(t, 1, adapter.Dials())
	assert.Equal(t, dap.StatusDisconnected, tr.Status())
}

func TestTransportStatusUnsubscribe(t *testing.T) {
	adapter := daptest.NewAdapter()
	tr := dap.NewTransport(adapter, dap.WithReconnectDelay(testReconnectDelay))
	t.Cleanup(func() { _ = tr.Close(true) })

	var calls int
	off := tr.OnStatus(func(dap.StatusChange) { calls++ })
	off()

	require.NoError(t, tr.Connect(context.Background()))
	adapter.Accept(t)
	assert.Zero(t, calls)
}

func TestTransportOverWebSocket(t *testing.T) {
	srv := daptest.NewWebSocketServer(t)
	tr, _ := newTestTransport(t, &dap.WebSocketDialer{URL: srv.URL()})

	got := make(chan []byte, 4)
	tr.OnMessage(func(frame []byte) { got <- frame })

	require.NoError(t, tr.Connect(context.Background()))
	sc := srv.Accept(t)

	frame, err := dap.EncodeRequest(1, dap.CommandNext, []byte(`{"threadId":1}`))
	require.NoError(t, err)
	require.NoError(t, tr.Send(frame))
	req := sc.Expect(t, dap.CommandNext)
	assert.JSONEq(t, `{"threadId":1}`, string(req.Arguments))

	sc.Respond(t, req, nil)
	select {
	case frame := <-got:
		decoded, err := dap.DecodeFrame(frame)
		require.NoError(t, err)
		resp, ok := decoded.(*dap.Response)
		require.True(t, ok)
		assert.Equal(t, 1, resp.RequestSeq)
	case <-time.After(daptest.Wait):
		t.Fatal("no response frame")
	}

	sc.Drop()
	srv.Accept(t)
	waitStatus(t, tr, dap.StatusConnected)
}

func TestTransportOverStream(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() { _ = serverSide.Close() })

	dialed := false
	dialer := dap.DialerFunc(func(context.Context) (dap.Conn, error) {
		if dialed {
			return nil, errors.New("single use")
		}
		dialed = true
		return dap.NewStreamConn(clientSide), nil
	})
	tr, _ := newTestTransport(t, dialer)

	got := make(chan []byte, 1)
	tr.OnMessage(func(frame []byte) { got <- frame })
	require.NoError(t, tr.Connect(context.Background()))

	received := make(chan []byte, 1)
	go func() {
		msg, err := godap.ReadBaseMessage(bufio.NewReader(serverSide))
		if err == nil {
			received <- msg
		}
	}()

	frame, err := dap.EncodeRequest(4, dap.CommandPause, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Send(frame))

	select {
	case msg := <-received:
		assert.JSONEq(t, string(frame), string(msg))
	case <-time.After(daptest.Wait):
		t.Fatal("server never received the request")
	}

	event := []byte(`{"seq":1,"type":"event","event":"terminated"}`)
	go func() { _ = godap.WriteBaseMessage(serverSide, event) }()

	select {
	case msg := <-got:
		assert.JSONEq(t, string(event), string(msg))
	case <-time.After(daptest.Wait):
		t.Fatal("client never received the event")
	}
}
