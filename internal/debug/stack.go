package debug

import (
	"fmt"
	"path/filepath"

	godap "github.com/google/go-dap"

	"github.com/magi8101/ariadbg/internal/debug/dap"
)

// StackFrame is one paused call-stack entry.
type StackFrame struct {
	// ID is the server's frame identifier.
	ID int

	// Name is the function name.
	Name string

	// Path is the source file path, empty when the server sent none.
	Path string

	// Line is the current line in the source.
	Line int

	// Column is the current column in the source.
	Column int
}

// FormatLocation returns a formatted location string like "file.aria:42".
func (f StackFrame) FormatLocation() string {
	if f.Path == "" {
		return fmt.Sprintf("<unknown>:%d", f.Line)
	}
	return fmt.Sprintf("%s:%d", filepath.Base(f.Path), f.Line)
}

func frameFromDAP(f godap.StackFrame) StackFrame {
	frame := StackFrame{
		ID:     f.Id,
		Name:   f.Name,
		Line:   f.Line,
		Column: f.Column,
	}
	if f.Source != nil {
		frame.Path = f.Source.Path
		if frame.Path == "" {
			frame.Path = f.Source.Name
		}
	}
	return frame
}

// Stack returns the call stack, innermost frame first.
func (s *Session) Stack() []StackFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StackFrame(nil), s.stack...)
}

// ActiveFrame returns the selected frame.
func (s *Session) ActiveFrame() (StackFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeFrameLocked()
}

func (s *Session) activeFrameLocked() (StackFrame, bool) {
	if !s.hasActive {
		return StackFrame{}, false
	}
	for _, f := range s.stack {
		if f.ID == s.active {
			return f, true
		}
	}
	return StackFrame{}, false
}

// Location returns the source position of the active frame.
func (s *Session) Location() (path string, line int, ok bool) {
	frame, ok := s.ActiveFrame()
	if !ok || frame.Path == "" {
		return "", 0, false
	}
	return frame.Path, frame.Line, true
}

// fetchStack requests the call stack of threadID for stop generation gen.
func (s *Session) fetchStack(threadID int, gen uint64) error {
	_, err := s.client.Go(dap.CommandStackTrace,
		godap.StackTraceArguments{ThreadId: threadID},
		dap.WithCallback(func(call *dap.Call) { s.applyStack(call, gen) }),
	)
	return err
}

// applyStack replaces the stack in one step and selects its innermost frame.
func (s *Session) applyStack(call *dap.Call, gen uint64) {
	body, err := dap.DecodeBody[godap.StackTraceResponseBody](call)
	if err != nil {
		s.logger.Warn("stack trace failed", "error", err)
		return
	}

	frames := make([]StackFrame, 0, len(body.StackFrames))
	for _, f := range body.StackFrames {
		frames = append(frames, frameFromDAP(f))
	}

	s.mu.Lock()
	if gen != s.stopGen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale stack trace", "seq", call.Seq)
		return
	}
	s.stack = frames
	s.scopes = nil
	s.variables = nil
	s.selection++
	sel := s.selection
	s.hasActive = len(frames) > 0
	s.active = 0
	if s.hasActive {
		s.active = frames[0].ID
	}
	frameID, hasActive := s.active, s.hasActive
	s.mu.Unlock()

	s.notify(ChangeStack, ChangeActiveFrame, ChangeScopes, ChangeVariables)

	if hasActive {
		if err := s.fetchScopes(frameID, sel); err != nil {
			s.logger.Warn("scopes request failed", "error", err)
		}
	}
}

// SelectFrame makes frameID the active frame and fetches its scopes and the
// variables of its first scope.
func (s *Session) SelectFrame(frameID int) error {
	s.mu.Lock()
	found := false
	for _, f := range s.stack {
		if f.ID == frameID {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownFrame, frameID)
	}
	s.active = frameID
	s.hasActive = true
	s.scopes = nil
	s.variables = nil
	s.selection++
	sel := s.selection
	s.mu.Unlock()

	s.notify(ChangeActiveFrame, ChangeScopes, ChangeVariables)
	return s.fetchScopes(frameID, sel)
}

// current reports whether results for selection sel may still be applied.
// Callers hold s.mu.
func (s *Session) current(sel uint64, frameID int) bool {
	return sel == s.selection && s.hasActive && s.active == frameID
}
