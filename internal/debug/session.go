package debug

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	godap "github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/magi8101/ariadbg/internal/debug/dap"
)

// DefaultThreadID is the thread all thread-scoped commands target.
const DefaultThreadID = 1

// ExecutionStatus is the state of the debuggee.
type ExecutionStatus int

const (
	// ExecIdle means the session is initialised but nothing has run yet.
	ExecIdle ExecutionStatus = iota
	// ExecRunning means the debuggee is executing.
	ExecRunning
	// ExecStopped means the debuggee is paused.
	ExecStopped
	// ExecTerminated means the debuggee has exited.
	ExecTerminated
)

// String returns a string representation of the status.
func (s ExecutionStatus) String() string {
	switch s {
	case ExecIdle:
		return "idle"
	case ExecRunning:
		return "running"
	case ExecStopped:
		return "stopped"
	case ExecTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ChangeKind names the part of the session a change touched.
type ChangeKind int

const (
	ChangeConnection ChangeKind = iota
	ChangeExecution
	ChangeBreakpoints
	ChangeStack
	ChangeActiveFrame
	ChangeScopes
	ChangeVariables
	ChangeConsole
)

// String returns a string representation of the kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeConnection:
		return "connection"
	case ChangeExecution:
		return "execution"
	case ChangeBreakpoints:
		return "breakpoints"
	case ChangeStack:
		return "stack"
	case ChangeActiveFrame:
		return "active-frame"
	case ChangeScopes:
		return "scopes"
	case ChangeVariables:
		return "variables"
	case ChangeConsole:
		return "console"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after a mutation completes.
type Change struct {
	Kind ChangeKind
}

// Client is the protocol surface a Session needs. *dap.Client implements it.
type Client interface {
	Go(command string, args any, opts ...dap.CallOption) (*dap.Call, error)
	Cancel(call *dap.Call, cause error) bool
	On(event string, handler dap.EventHandler) func()
	OnStatus(handler dap.StatusHandler) func()
	Status() dap.Status
	Close(explicit bool) error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithThreadID sets the thread used for thread-scoped commands and for
// stopped events that omit one.
func WithThreadID(id int) Option {
	return func(s *Session) {
		if id > 0 {
			s.threadID = id
		}
	}
}

// WithConsoleLimit bounds the number of console entries kept.
func WithConsoleLimit(n int) Option {
	return func(s *Session) {
		s.consoleLimit = n
	}
}

// Session is the authoritative model of one debugging session. It is
// mutated only by event handlers and request completions; consumers read
// snapshots and subscribe to changes.
type Session struct {
	id           string
	client       Client
	logger       *slog.Logger
	threadID     int
	consoleLimit int

	mu          sync.Mutex
	conn        dap.Status
	exec        ExecutionStatus
	ready       bool
	breakpoints *BreakpointRegistry
	stack       []StackFrame
	active      int
	hasActive   bool
	scopes      []Scope
	variables   []Variable
	children    map[int][]Variable
	console     *Console

	// stopGen changes whenever the debuggee resumes, stops or goes away;
	// results fetched under an older value are discarded.
	stopGen uint64
	// selection changes whenever the active frame is (re)selected.
	selection uint64

	subMu   sync.RWMutex
	subs    []subscriber
	nextSub int

	detach []func()
}

type subscriber struct {
	id int
	fn func(Change)
}

// NewSession creates a session driven by client's events. Close detaches it.
func NewSession(client Client, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		client:      client,
		logger:      slog.Default(),
		threadID:    DefaultThreadID,
		breakpoints: NewBreakpointRegistry(),
		children:    make(map[int][]Variable),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.console = newConsole(s.consoleLimit, nil)
	s.logger = s.logger.With("component", "session", "session", s.id)
	s.conn = client.Status()

	s.detach = []func(){
		client.OnStatus(s.onConnectionStatus),
		client.On(dap.EventInitialized, func(*dap.Event) { s.onInitialized() }),
		client.On(dap.EventStopped, s.handleStopped),
		client.On(dap.EventContinued, func(*dap.Event) { s.onContinued() }),
		client.On(dap.EventExited, s.handleExited),
		client.On(dap.EventTerminated, func(*dap.Event) { s.onTerminated() }),
		client.On(dap.EventBreakpoint, s.handleBreakpoint),
		client.On(dap.EventOutput, s.handleOutput),
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ThreadID returns the thread used for thread-scoped commands.
func (s *Session) ThreadID() int {
	return s.threadID
}

// Close detaches the session from its client. The connection is left alone.
func (s *Session) Close() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

// Subscribe registers fn for change notifications. Notifications are
// delivered synchronously after the lock is released, on the goroutine that
// made the change, so fn must not block. The returned function unsubscribes.
func (s *Session) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) notify(kinds ...ChangeKind) {
	if len(kinds) == 0 {
		return
	}
	s.subMu.RLock()
	subs := append([]subscriber(nil), s.subs...)
	s.subMu.RUnlock()

	for _, kind := range kinds {
		for _, sub := range subs {
			sub.fn(Change{Kind: kind})
		}
	}
}

// logf appends a console entry. Callers hold s.mu.
func (s *Session) logf(severity Severity, format string, args ...any) {
	s.console.append(severity, fmt.Sprintf(format, args...))
}

// Snapshot getters.

// ConnectionStatus returns the transport status as last reported.
func (s *Session) ConnectionStatus() dap.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// ExecutionStatus returns the debuggee status.
func (s *Session) ExecutionStatus() ExecutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec
}

// Ready reports whether the server has sent initialized on this connection.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Console returns a copy of the console log.
func (s *Session) Console() []ConsoleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.console.snapshot()
}

// ClearConsole empties the console log.
func (s *Session) ClearConsole() {
	s.mu.Lock()
	s.console.clear()
	s.mu.Unlock()
	s.notify(ChangeConsole)
}

// Breakpoints returns the breakpoints of path ordered by line.
func (s *Session) Breakpoints(path string) []Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakpoints.ForPath(path)
}

// AllBreakpoints returns every breakpoint ordered by path and line.
func (s *Session) AllBreakpoints() []Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakpoints.All()
}

// Controls returns the commands that make sense in the current state.
func (s *Session) Controls() Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != dap.StatusConnected {
		return 0
	}
	switch s.exec {
	case ExecStopped:
		return ControlsAll
	case ExecRunning:
		return ControlPause | ControlStop
	default:
		return 0
	}
}

// Controls is a set of enabled commands.
type Controls uint8

const (
	ControlContinue Controls = 1 << iota
	ControlPause
	ControlStepOver
	ControlStepInto
	ControlStepOut
	ControlRestart
	ControlStop
	ControlEvaluate

	ControlsAll = ControlContinue | ControlPause | ControlStepOver | ControlStepInto |
		ControlStepOut | ControlRestart | ControlStop | ControlEvaluate
)

// Has reports whether every control in c is enabled.
func (cs Controls) Has(c Controls) bool {
	return cs&c == c
}

// String lists the enabled controls.
func (cs Controls) String() string {
	names := []string{"continue", "pause", "stepOver", "stepInto", "stepOut", "restart", "stop", "evaluate"}
	var out []string
	for i, name := range names {
		if cs&(1<<i) != 0 {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ",")
}

// Connection and lifecycle events.

func (s *Session) onConnectionStatus(change dap.StatusChange) {
	s.mu.Lock()
	s.conn = change.New
	kinds := []ChangeKind{ChangeConnection}

	switch {
	case change.New == dap.StatusConnected:
		s.logf(SeveritySuccess, "Connected to debugger")
		kinds = append(kinds, ChangeConsole)
	case change.Lost():
		s.ready = false
		s.stopGen++
		s.selection++
		if change.Explicit {
			s.logf(SeverityInfo, "Disconnected from debugger")
		} else {
			s.logf(SeverityError, "Disconnected from debugger")
		}
		kinds = append(kinds, ChangeConsole)
	}
	s.mu.Unlock()

	s.notify(kinds...)
}

// onInitialized runs on the reader goroutine, so the resync below never
// blocks the transport's status observers.
func (s *Session) onInitialized() {
	s.mu.Lock()
	s.ready = true
	s.exec = ExecIdle
	s.logf(SeveritySuccess, "Debug session initialized")
	resync := s.breakpoints.Paths()
	s.mu.Unlock()

	s.logger.Info("session initialized")
	s.notify(ChangeExecution, ChangeConsole)

	// Breakpoints outlive connections; push them to the server once it
	// accepts configuration.
	for _, path := range resync {
		if err := s.syncBreakpoints(path); err != nil {
			s.logger.Warn("breakpoint resync failed", "path", path, "error", err)
		}
	}
}

func (s *Session) handleStopped(evt *dap.Event) {
	var body godap.StoppedEventBody
	if err := evt.DecodeBody(&body); err != nil {
		s.logger.Warn("ignoring stopped event", "error", err)
		return
	}
	s.onStopped(body.ThreadId, body.Reason)
}

// onStopped marks the debuggee paused and fetches the call stack of threadID.
func (s *Session) onStopped(threadID int, reason string) {
	if threadID == 0 {
		threadID = s.threadID
	}
	if reason == "" {
		reason = "unknown"
	}

	s.mu.Lock()
	s.exec = ExecStopped
	s.stopGen++
	s.selection++
	gen := s.stopGen
	s.children = make(map[int][]Variable)
	s.logf(SeverityInfo, "Stopped: %s", reason)
	s.mu.Unlock()

	s.logger.Debug("stopped", "reason", reason, "thread", threadID)
	s.notify(ChangeExecution, ChangeConsole)

	if err := s.fetchStack(threadID, gen); err != nil {
		s.logger.Warn("stack trace request failed", "error", err)
	}
}

func (s *Session) onContinued() {
	s.mu.Lock()
	s.resume()
	s.logf(SeverityInfo, "Continuing execution...")
	s.mu.Unlock()

	s.notify(ChangeExecution, ChangeVariables, ChangeConsole)
}

// markRunning applies the Running state implied by a successful continue or
// step response, unless the debuggee stopped again since gen.
func (s *Session) markRunning(gen uint64) {
	s.mu.Lock()
	if s.stopGen != gen || s.exec == ExecTerminated || s.exec == ExecRunning {
		s.mu.Unlock()
		return
	}
	s.resume()
	s.mu.Unlock()

	s.notify(ChangeExecution, ChangeVariables)
}

// resume clears state that is stale once execution continues. Callers hold s.mu.
func (s *Session) resume() {
	s.exec = ExecRunning
	s.stopGen++
	s.selection++
	s.variables = nil
	s.children = make(map[int][]Variable)
}

func (s *Session) handleExited(evt *dap.Event) {
	var body godap.ExitedEventBody
	if err := evt.DecodeBody(&body); err != nil {
		s.logger.Warn("ignoring exited event", "error", err)
		return
	}
	s.onExited(body.ExitCode)
}

func (s *Session) onExited(code int) {
	severity := SeveritySuccess
	if code != 0 {
		severity = SeverityError
	}

	s.mu.Lock()
	s.terminate()
	s.logf(severity, "Program exited with code %d", code)
	s.mu.Unlock()

	s.notify(ChangeExecution, ChangeStack, ChangeActiveFrame, ChangeScopes, ChangeVariables, ChangeConsole)
}

func (s *Session) onTerminated() {
	s.mu.Lock()
	s.terminate()
	s.logf(SeverityInfo, "Debug session terminated")
	s.mu.Unlock()

	s.notify(ChangeExecution, ChangeStack, ChangeActiveFrame, ChangeScopes, ChangeVariables, ChangeConsole)
}

// terminate drops all program state except breakpoints. Callers hold s.mu.
func (s *Session) terminate() {
	s.exec = ExecTerminated
	s.stopGen++
	s.selection++
	s.stack = nil
	s.active = 0
	s.hasActive = false
	s.scopes = nil
	s.variables = nil
	s.children = make(map[int][]Variable)
}

func (s *Session) handleOutput(evt *dap.Event) {
	var body godap.OutputEventBody
	if err := evt.DecodeBody(&body); err != nil {
		s.logger.Warn("ignoring output event", "error", err)
		return
	}
	if body.Category == "telemetry" {
		return
	}
	text := strings.TrimRight(body.Output, "\r\n")
	if text == "" {
		return
	}

	severity := SeverityInfo
	if body.Category == "stderr" {
		severity = SeverityError
	}

	s.mu.Lock()
	s.console.append(severity, text)
	s.mu.Unlock()
	s.notify(ChangeConsole)
}

// stopGeneration returns the current stop generation.
func (s *Session) stopGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopGen
}
