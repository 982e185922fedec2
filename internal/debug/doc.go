// Package debug keeps the client-side model of a debugging session and
// exposes the commands a front end drives it with.
//
// # Architecture
//
//	┌──────────────┐  commands   ┌──────────────┐  requests  ┌──────────────┐
//	│  Controller  │────────────▶│  dap.Client  │───────────▶│ debug server │
//	└──────────────┘             │  Dispatcher  │◀───────────│              │
//	       │                     │  Router      │  responses └──────────────┘
//	       ▼                     └──────────────┘  + events
//	┌──────────────┐  handlers / completions │
//	│   Session    │◀────────────────────────┘
//	└──────────────┘
//	       │ Change notifications
//	       ▼
//	   front end
//
// A Session is mutated by event handlers, request completions and the
// Controller's commands, and every mutation is serialized by the session
// lock. Consumers read copies through the getters and learn about updates
// through Subscribe.
//
// # Execution States
//
//   - Idle: initialized, nothing has run yet
//   - Running: continued, or a continue/step request succeeded
//   - Stopped: paused at a breakpoint, step or pause
//   - Terminated: the program exited; breakpoints survive for a restart
//
// # Fetch Ordering
//
// A stop triggers stackTrace, then scopes for the innermost frame, then
// variables for its first scope. Every step is tagged with the stop
// generation and frame selection it was issued under, and results that no
// longer match are dropped. The stack is always replaced in one step.
//
// # Breakpoints
//
// Toggling updates the local registry at once and then sends the file's
// complete set with setBreakpoints. Verified flags and server ids arrive
// later through the response and breakpoint events.
//
// # Usage
//
//	client := dap.NewClient(&dap.WebSocketDialer{URL: url}, dap.ClientOptions{})
//	session := debug.NewSession(client)
//	ctl := debug.NewController(session)
//
//	_ = client.Connect(ctx)
//	session.Subscribe(func(c debug.Change) { render(session, c.Kind) })
//
//	_, _ = ctl.ToggleBreakpoint("main.aria", 10)
//	_, _ = ctl.Continue()
package debug
