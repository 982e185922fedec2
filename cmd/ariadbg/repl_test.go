package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magi8101/ariadbg/internal/debug"
	"github.com/magi8101/ariadbg/internal/debug/dap"
	"github.com/magi8101/ariadbg/internal/debug/dap/daptest"
	"github.com/magi8101/ariadbg/internal/logging"
)

// syncBuffer is a bytes.Buffer safe for the printer's concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type replHarness struct {
	repl    *repl
	session *debug.Session
	server  *daptest.ServerConn
	out     *syncBuffer
}

func newReplHarness(t *testing.T) *replHarness {
	t.Helper()

	logger := logging.Discard()
	adapter := daptest.NewAdapter()
	client := dap.NewClient(adapter, dap.ClientOptions{
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         logger,
	})
	session := debug.NewSession(client, debug.WithLogger(logger))
	out := &syncBuffer{}
	p := newPrinter(out)
	unsubscribe := session.Subscribe(p.follow(session))
	t.Cleanup(func() {
		unsubscribe()
		session.Close()
		_ = client.Close(true)
	})

	require.NoError(t, client.Connect(context.Background()))
	h := &replHarness{
		repl:    newREPL(debug.NewController(session), client, p),
		session: session,
		server:  adapter.Accept(t),
		out:     out,
	}
	require.Eventually(t, func() bool {
		return session.ConnectionStatus() == dap.StatusConnected
	}, daptest.Wait, 5*time.Millisecond)
	return h
}

func (h *replHarness) exec(t *testing.T, line string) error {
	t.Helper()
	return h.repl.execute(context.Background(), line)
}

func (h *replHarness) waitOutput(t *testing.T, text string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(h.out.String(), text) },
		daptest.Wait, 5*time.Millisecond, "output never contained %q:\n%s", text, h.out.String())
}

// pause drives the session into the stopped state with a two-frame stack.
func (h *replHarness) pause(t *testing.T) {
	t.Helper()
	h.server.Emit(t, dap.EventStopped, map[string]any{"reason": "breakpoint", "threadId": 1})
	h.server.Respond(t, h.server.Expect(t, dap.CommandStackTrace), map[string]any{
		"stackFrames": []map[string]any{
			{"id": 1000, "name": "main", "source": map[string]any{"path": "/src/main.aria"}, "line": 12},
			{"id": 1001, "name": "start", "source": map[string]any{"path": "/src/boot.aria"}, "line": 3},
		},
	})
	h.server.Respond(t, h.server.Expect(t, dap.CommandScopes), map[string]any{
		"scopes": []map[string]any{
			{"name": "Locals", "variablesReference": 11},
			{"name": "Globals", "variablesReference": 12},
		},
	})
	h.server.Respond(t, h.server.Expect(t, dap.CommandVariables), map[string]any{
		"variables": []map[string]any{
			{"name": "count", "value": "3", "type": "int"},
			{"name": "user", "value": "User{...}", "type": "User", "variablesReference": 21},
		},
	})
	require.Eventually(t, func() bool { return len(h.session.Variables()) == 2 },
		daptest.Wait, 5*time.Millisecond)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		input   string
		path    string
		line    int
		wantErr bool
	}{
		{"main.aria:12", "main.aria", 12, false},
		{`C:\src\main.aria:7`, `C:\src\main.aria`, 7, false},
		{"main.aria", "", 0, true},
		{":12", "", 0, true},
		{"main.aria:", "", 0, true},
		{"main.aria:zero", "", 0, true},
		{"main.aria:0", "", 0, true},
	}

	for _, tt := range tests {
		path, line, err := parseLocation(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.path, path)
		assert.Equal(t, tt.line, line)
	}
}

func TestReplUnknownCommand(t *testing.T) {
	h := newReplHarness(t)

	err := h.exec(t, "launch rockets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"launch"`)
	assert.NoError(t, h.exec(t, "   "))
}

func TestReplHelpListsAliases(t *testing.T) {
	h := newReplHarness(t)

	require.NoError(t, h.exec(t, "help"))
	out := h.out.String()
	assert.Contains(t, out, "next, n")
	assert.Contains(t, out, "break, b <file>:<line>")
}

func TestReplGatesCommandsOnState(t *testing.T) {
	h := newReplHarness(t)

	err := h.exec(t, "next")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available while idle")
	h.server.NoRequest(t, 30*time.Millisecond)

	err = h.exec(t, "print x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "print is not available")
}

func TestReplStepWhileStopped(t *testing.T) {
	h := newReplHarness(t)
	h.pause(t)
	h.waitOutput(t, "at main.aria:12")

	require.NoError(t, h.exec(t, "N"))
	req := h.server.Expect(t, dap.CommandNext)
	h.server.Respond(t, req, nil)

	require.Eventually(t, func() bool {
		return h.session.ExecutionStatus() == debug.ExecRunning
	}, daptest.Wait, 5*time.Millisecond)
}

func TestReplToggleBreakpoint(t *testing.T) {
	h := newReplHarness(t)

	require.NoError(t, h.exec(t, "b main.aria:4"))
	req := h.server.Expect(t, dap.CommandSetBreakpoints)
	h.server.Respond(t, req, map[string]any{
		"breakpoints": []map[string]any{{"id": 9, "verified": true, "line": 4}},
	})
	h.waitOutput(t, "Breakpoint set at main.aria:4")

	require.Eventually(t, func() bool {
		bps := h.session.AllBreakpoints()
		return len(bps) == 1 && bps[0].Verified
	}, daptest.Wait, 5*time.Millisecond)

	require.NoError(t, h.exec(t, "bl"))
	h.waitOutput(t, "main.aria:4  verified (id 9)")

	assert.Error(t, h.exec(t, "b main.aria"))
}

func TestReplBacktraceAndFrames(t *testing.T) {
	h := newReplHarness(t)
	h.pause(t)

	require.NoError(t, h.exec(t, "bt"))
	h.waitOutput(t, "> 1000")
	assert.Contains(t, h.out.String(), "boot.aria:3")

	require.NoError(t, h.exec(t, "frame 1001"))
	h.server.Respond(t, h.server.Expect(t, dap.CommandScopes), map[string]any{"scopes": []any{}})
	h.waitOutput(t, "at boot.aria:3")

	assert.ErrorIs(t, h.exec(t, "frame 77"), debug.ErrUnknownFrame)
	assert.Error(t, h.exec(t, "frame top"))
}

func TestFormatStackMarksOnlyActiveFrame(t *testing.T) {
	stack := []debug.StackFrame{
		{ID: 0, Name: "main", Path: "/src/main.aria", Line: 12},
		{ID: 1, Name: "start", Path: "/src/boot.aria", Line: 3},
	}

	out := formatStack(stack, debug.StackFrame{}, false)
	assert.NotContains(t, out, ">", "no frame is active")
	assert.Equal(t, 2, strings.Count(out, "\n"))

	out = formatStack(stack, stack[0], true)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "> 0 "), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "  1 "), lines[1])
}

func TestReplVariablesAndExpand(t *testing.T) {
	h := newReplHarness(t)
	h.pause(t)

	require.NoError(t, h.exec(t, "vars"))
	h.waitOutput(t, "count = 3 (int)")
	assert.Contains(t, h.out.String(), "user = User{...} (User) [expand 21]")
	assert.Contains(t, h.out.String(), "(expand 12)")

	require.NoError(t, h.exec(t, "x 21"))
	h.server.Respond(t, h.server.Expect(t, dap.CommandVariables), map[string]any{
		"variables": []map[string]any{{"name": "name", "value": `"ada"`, "type": "string"}},
	})
	require.Eventually(t, func() bool {
		_, ok := h.session.Children(21)
		return ok
	}, daptest.Wait, 5*time.Millisecond)

	require.NoError(t, h.exec(t, "vars"))
	h.waitOutput(t, `    name = "ada" (string)`)

	assert.ErrorIs(t, h.exec(t, "expand 0"), debug.ErrNotExpandable)
}

func TestReplEvaluate(t *testing.T) {
	h := newReplHarness(t)
	h.pause(t)

	done := make(chan error, 1)
	go func() { done <- h.exec(t, "print count * 2") }()

	req := h.server.Expect(t, dap.CommandEvaluate)
	var args struct {
		Expression string `json:"expression"`
		FrameID    int    `json:"frameId"`
	}
	daptest.DecodeArgs(t, req, &args)
	assert.Equal(t, "count * 2", args.Expression)
	assert.Equal(t, 1000, args.FrameID)
	h.server.Respond(t, req, map[string]any{"result": "6", "type": "int", "variablesReference": 0})

	require.NoError(t, <-done)
	h.waitOutput(t, "= 6 (int)")
}

func TestReplStatusAndConsole(t *testing.T) {
	h := newReplHarness(t)
	h.waitOutput(t, "Connected to debugger")

	require.NoError(t, h.exec(t, "status"))
	h.waitOutput(t, "connection: connected")
	assert.Contains(t, h.out.String(), "controls:   none")

	require.NoError(t, h.exec(t, "clear"))
	assert.Empty(t, h.session.Console())
}

func TestReplRunStopsAtQuitAndEOF(t *testing.T) {
	h := newReplHarness(t)

	err := h.repl.run(context.Background(), strings.NewReader("status\nquit\nstatus\n"))
	assert.ErrorIs(t, err, errQuit)
	assert.Equal(t, 1, strings.Count(h.out.String(), "connection:"))

	err = h.repl.run(context.Background(), strings.NewReader("bogus\n"))
	assert.ErrorIs(t, err, errQuit)
	assert.Contains(t, h.out.String(), `error: unknown command "bogus"`)
}

func TestReplRunStopsWithContext(t *testing.T) {
	h := newReplHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan error, 1)
	go func() { done <- h.repl.run(ctx, pr) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(daptest.Wait):
		t.Fatal("run did not return after cancel")
	}
}

func TestReplStopAndConnect(t *testing.T) {
	adapter := daptest.NewAdapter()
	client := dap.NewClient(adapter, dap.ClientOptions{
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         logging.Discard(),
	})
	session := debug.NewSession(client)
	t.Cleanup(func() {
		session.Close()
		_ = client.Close(true)
	})
	require.NoError(t, client.Connect(context.Background()))
	server := adapter.Accept(t)
	r := newREPL(debug.NewController(session), client, newPrinter(io.Discard))

	done := make(chan error, 1)
	go func() { done <- r.execute(context.Background(), "stop") }()
	server.Respond(t, server.Expect(t, dap.CommandDisconnect), nil)
	require.NoError(t, <-done)
	assert.Equal(t, dap.StatusDisconnected, client.Status())

	require.NoError(t, r.execute(context.Background(), "connect"))
	adapter.Accept(t)
	assert.Equal(t, dap.StatusConnected, client.Status())
}
