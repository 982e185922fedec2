package debug

import "errors"

// Errors returned by Session and Controller. Protocol failures are the
// errors of package dap and pass through unchanged.
var (
	// ErrUnknownFrame indicates a frame id that is not on the current stack.
	ErrUnknownFrame = errors.New("unknown stack frame")

	// ErrNotExpandable indicates a variables reference without children.
	ErrNotExpandable = errors.New("variable has no children")

	// ErrInvalidBreakpoint indicates an empty path or a non-positive line.
	ErrInvalidBreakpoint = errors.New("invalid breakpoint location")

	// ErrEmptyExpression is returned by Evaluate for a blank expression,
	// which is never sent.
	ErrEmptyExpression = errors.New("empty expression")
)
