package debug

import (
	"fmt"

	godap "github.com/google/go-dap"

	"github.com/magi8101/ariadbg/internal/debug/dap"
)

// Scope is a named group of variables of the active frame.
type Scope struct {
	Name               string
	VariablesReference int
	Expensive          bool
}

// Variable is one variable as rendered by the server.
type Variable struct {
	Name  string
	Value string
	Type  string

	// VariablesReference is non-zero when the variable has children.
	VariablesReference int
}

// Expandable reports whether the variable has children.
func (v Variable) Expandable() bool {
	return v.VariablesReference > 0
}

func variablesFromDAP(in []godap.Variable) []Variable {
	out := make([]Variable, 0, len(in))
	for _, v := range in {
		out = append(out, Variable{
			Name:               v.Name,
			Value:              v.Value,
			Type:               v.Type,
			VariablesReference: v.VariablesReference,
		})
	}
	return out
}

// Scopes returns the scopes of the active frame.
func (s *Session) Scopes() []Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scope(nil), s.scopes...)
}

// Variables returns the variables of the first scope of the active frame.
func (s *Session) Variables() []Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Variable(nil), s.variables...)
}

// Children returns the fetched children of ref.
func (s *Session) Children(ref int) ([]Variable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars, ok := s.children[ref]
	if !ok {
		return nil, false
	}
	return append([]Variable(nil), vars...), true
}

func (s *Session) fetchScopes(frameID int, sel uint64) error {
	_, err := s.client.Go(dap.CommandScopes,
		godap.ScopesArguments{FrameId: frameID},
		dap.WithCallback(func(call *dap.Call) { s.applyScopes(call, frameID, sel) }),
	)
	return err
}

func (s *Session) applyScopes(call *dap.Call, frameID int, sel uint64) {
	body, err := dap.DecodeBody[godap.ScopesResponseBody](call)
	if err != nil {
		s.logger.Warn("scopes failed", "frame", frameID, "error", err)
		return
	}

	scopes := make([]Scope, 0, len(body.Scopes))
	for _, sc := range body.Scopes {
		scopes = append(scopes, Scope{
			Name:               sc.Name,
			VariablesReference: sc.VariablesReference,
			Expensive:          sc.Expensive,
		})
	}

	s.mu.Lock()
	if !s.current(sel, frameID) {
		s.mu.Unlock()
		s.logger.Debug("discarding stale scopes", "frame", frameID)
		return
	}
	s.scopes = scopes
	s.mu.Unlock()

	s.notify(ChangeScopes)

	// Only the first scope is expanded automatically.
	if len(scopes) > 0 && scopes[0].VariablesReference > 0 {
		if err := s.fetchVariables(scopes[0].VariablesReference, frameID, sel); err != nil {
			s.logger.Warn("variables request failed", "error", err)
		}
	}
}

func (s *Session) fetchVariables(ref, frameID int, sel uint64) error {
	_, err := s.client.Go(dap.CommandVariables,
		godap.VariablesArguments{VariablesReference: ref},
		dap.WithCallback(func(call *dap.Call) { s.applyVariables(call, frameID, sel) }),
	)
	return err
}

func (s *Session) applyVariables(call *dap.Call, frameID int, sel uint64) {
	body, err := dap.DecodeBody[godap.VariablesResponseBody](call)
	if err != nil {
		s.logger.Warn("variables failed", "frame", frameID, "error", err)
		return
	}
	vars := variablesFromDAP(body.Variables)

	s.mu.Lock()
	if !s.current(sel, frameID) {
		s.mu.Unlock()
		s.logger.Debug("discarding stale variables", "frame", frameID)
		return
	}
	s.variables = vars
	s.mu.Unlock()

	s.notify(ChangeVariables)
}

// ExpandVariable fetches the children of ref. The result is available from
// Children once the response arrives, unless execution resumed meanwhile.
func (s *Session) ExpandVariable(ref int) error {
	if ref <= 0 {
		return fmt.Errorf("%w: reference %d", ErrNotExpandable, ref)
	}

	gen := s.stopGeneration()
	_, err := s.client.Go(dap.CommandVariables,
		godap.VariablesArguments{VariablesReference: ref},
		dap.WithCallback(func(call *dap.Call) { s.applyChildren(call, ref, gen) }),
	)
	return err
}

func (s *Session) applyChildren(call *dap.Call, ref int, gen uint64) {
	body, err := dap.DecodeBody[godap.VariablesResponseBody](call)
	if err != nil {
		s.logger.Warn("expand variable failed", "ref", ref, "error", err)
		return
	}
	vars := variablesFromDAP(body.Variables)

	s.mu.Lock()
	if gen != s.stopGen {
		s.mu.Unlock()
		return
	}
	s.children[ref] = vars
	s.mu.Unlock()

	s.notify(ChangeVariables)
}
