package debug

import (
	"context"
	"errors"
	"strings"
	"time"

	godap "github.com/google/go-dap"

	"github.com/magi8101/ariadbg/internal/debug/dap"
)

// DefaultStopTimeout bounds how long Stop waits for the disconnect response.
const DefaultStopTimeout = 2 * time.Second

// Evaluation is the result of an evaluate request.
type Evaluation struct {
	Result             string
	Type               string
	VariablesReference int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithStopTimeout sets how long Stop waits for the server to acknowledge
// the disconnect before closing the connection anyway.
func WithStopTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// Controller is the command surface of a session. Every command is one
// request; thread-scoped commands target the session's single thread.
type Controller struct {
	session     *Session
	client      Client
	stopTimeout time.Duration
}

// NewController creates a controller issuing commands for session.
func NewController(session *Session, opts ...ControllerOption) *Controller {
	c := &Controller{
		session:     session,
		client:      session.client,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the controlled session.
func (c *Controller) Session() *Session {
	return c.session
}

// Continue resumes the debuggee.
func (c *Controller) Continue() (*dap.Call, error) {
	return c.resume(dap.CommandContinue, godap.ContinueArguments{ThreadId: c.session.threadID})
}

// Pause interrupts the debuggee.
func (c *Controller) Pause() (*dap.Call, error) {
	return c.client.Go(dap.CommandPause, godap.PauseArguments{ThreadId: c.session.threadID})
}

// StepOver executes the next line.
func (c *Controller) StepOver() (*dap.Call, error) {
	return c.resume(dap.CommandNext, godap.NextArguments{ThreadId: c.session.threadID})
}

// StepInto steps into the next call.
func (c *Controller) StepInto() (*dap.Call, error) {
	return c.resume(dap.CommandStepIn, godap.StepInArguments{ThreadId: c.session.threadID})
}

// StepOut runs until the current function returns.
func (c *Controller) StepOut() (*dap.Call, error) {
	return c.resume(dap.CommandStepOut, godap.StepOutArguments{ThreadId: c.session.threadID})
}

// Restart restarts the debuggee.
func (c *Controller) Restart() (*dap.Call, error) {
	return c.client.Go(dap.CommandRestart, struct{}{})
}

// resume issues a command whose success implies the debuggee runs again.
func (c *Controller) resume(command string, args any) (*dap.Call, error) {
	gen := c.session.stopGeneration()
	return c.client.Go(command, args, dap.WithCallback(func(call *dap.Call) {
		if call.Err() == nil {
			c.session.markRunning(gen)
		}
	}))
}

// Stop asks the server to disconnect, waits for its answer (bounded by ctx
// and the stop timeout) and closes the connection without reconnecting.
// Requests still pending fail with dap.ErrConnectionLost.
func (c *Controller) Stop(ctx context.Context) error {
	call, err := c.client.Go(dap.CommandDisconnect, godap.DisconnectArguments{},
		dap.WithTimeout(c.stopTimeout))
	if err != nil && !errors.Is(err, dap.ErrNotConnected) {
		_ = c.client.Close(true)
		return err
	}

	var waitErr error
	if call != nil {
		select {
		case <-call.Done():
			waitErr = call.Err()
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}

	if err := c.client.Close(true); err != nil {
		return err
	}
	if errors.Is(waitErr, dap.ErrConnectionLost) {
		// The server closed first; that is what we asked for.
		return nil
	}
	return waitErr
}

// Evaluate evaluates expression in the REPL context of the active frame and
// waits for the result. A blank expression is never sent. Evaluation does
// not change session state.
func (c *Controller) Evaluate(ctx context.Context, expression string) (Evaluation, error) {
	if strings.TrimSpace(expression) == "" {
		return Evaluation{}, ErrEmptyExpression
	}

	args := godap.EvaluateArguments{Expression: expression, Context: "repl"}
	if frame, ok := c.session.ActiveFrame(); ok {
		args.FrameId = frame.ID
	}

	call, err := c.client.Go(dap.CommandEvaluate, args)
	if err != nil {
		return Evaluation{}, err
	}

	select {
	case <-call.Done():
	case <-ctx.Done():
		c.client.Cancel(call, ctx.Err())
		return Evaluation{}, ctx.Err()
	}

	body, err := dap.DecodeBody[godap.EvaluateResponseBody](call)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Result:             body.Result,
		Type:               body.Type,
		VariablesReference: body.VariablesReference,
	}, nil
}

// ToggleBreakpoint toggles the breakpoint at path:line.
func (c *Controller) ToggleBreakpoint(path string, line int) (bool, error) {
	return c.session.ToggleBreakpoint(path, line)
}

// SelectFrame selects a stack frame and fetches its variables.
func (c *Controller) SelectFrame(frameID int) error {
	return c.session.SelectFrame(frameID)
}

// ExpandVariable fetches the children of a variables reference.
func (c *Controller) ExpandVariable(ref int) error {
	return c.session.ExpandVariable(ref)
}
