package debug

import (
	"fmt"
	"sort"

	godap "github.com/google/go-dap"

	"github.com/magi8101/ariadbg/internal/debug/dap"
)

// BreakpointKey identifies a line breakpoint.
type BreakpointKey struct {
	Path string
	Line int
}

// String returns "path:line".
func (k BreakpointKey) String() string {
	return fmt.Sprintf("%s:%d", k.Path, k.Line)
}

// Breakpoint is a line breakpoint as the client knows it.
type Breakpoint struct {
	// Path is the source file path.
	Path string

	// Line is the 1-based line number.
	Line int

	// Verified is set once the server confirms the breakpoint.
	Verified bool

	// ID is the server-assigned identifier, 0 until acknowledged.
	ID int

	// Message is the server's explanation, typically for unverified breakpoints.
	Message string
}

// Key returns the breakpoint's registry key.
func (b Breakpoint) Key() BreakpointKey {
	return BreakpointKey{Path: b.Path, Line: b.Line}
}

// BreakpointRegistry holds at most one breakpoint per (path, line).
// It is not safe for concurrent use; Session guards it with its own lock.
type BreakpointRegistry struct {
	byPath map[string]map[int]*Breakpoint
	byID   map[int]BreakpointKey

	// gens counts mutations per file so a stale setBreakpoints response
	// can be recognised and ignored.
	gens map[string]uint64
}

// NewBreakpointRegistry creates an empty registry.
func NewBreakpointRegistry() *BreakpointRegistry {
	return &BreakpointRegistry{
		byPath: make(map[string]map[int]*Breakpoint),
		byID:   make(map[int]BreakpointKey),
		gens:   make(map[string]uint64),
	}
}

// Toggle adds the breakpoint at path:line if absent and removes it if
// present. It reports whether the breakpoint was added.
func (r *BreakpointRegistry) Toggle(path string, line int) bool {
	r.gens[path]++

	lines := r.byPath[path]
	if bp, ok := lines[line]; ok {
		if bp.ID != 0 {
			delete(r.byID, bp.ID)
		}
		delete(lines, line)
		if len(lines) == 0 {
			delete(r.byPath, path)
		}
		return false
	}

	if lines == nil {
		lines = make(map[int]*Breakpoint)
		r.byPath[path] = lines
	}
	lines[line] = &Breakpoint{Path: path, Line: line}
	return true
}

// Has reports whether a breakpoint exists at key.
func (r *BreakpointRegistry) Has(key BreakpointKey) bool {
	_, ok := r.byPath[key.Path][key.Line]
	return ok
}

// Get returns the breakpoint at key.
func (r *BreakpointRegistry) Get(key BreakpointKey) (Breakpoint, bool) {
	bp, ok := r.byPath[key.Path][key.Line]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// Lines returns the breakpoint lines of path in ascending order.
func (r *BreakpointRegistry) Lines(path string) []int {
	lines := make([]int, 0, len(r.byPath[path]))
	for line := range r.byPath[path] {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}

// ForPath returns copies of the breakpoints of path ordered by line.
func (r *BreakpointRegistry) ForPath(path string) []Breakpoint {
	lines := r.Lines(path)
	out := make([]Breakpoint, 0, len(lines))
	for _, line := range lines {
		out = append(out, *r.byPath[path][line])
	}
	return out
}

// Paths returns every file with at least one breakpoint, sorted.
func (r *BreakpointRegistry) Paths() []string {
	paths := make([]string, 0, len(r.byPath))
	for path := range r.byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// All returns copies of every breakpoint ordered by path, then line.
func (r *BreakpointRegistry) All() []Breakpoint {
	var out []Breakpoint
	for _, path := range r.Paths() {
		out = append(out, r.ForPath(path)...)
	}
	return out
}

// Len returns the number of breakpoints.
func (r *BreakpointRegistry) Len() int {
	n := 0
	for _, lines := range r.byPath {
		n += len(lines)
	}
	return n
}

// Generation returns the mutation counter of path.
func (r *BreakpointRegistry) Generation(path string) uint64 {
	return r.gens[path]
}

// Reconcile applies a setBreakpoints response for path. The server answers
// in request order, which is ascending line order. The response is ignored
// unless the file is unchanged since generation gen.
func (r *BreakpointRegistry) Reconcile(path string, gen uint64, results []godap.Breakpoint) bool {
	if r.gens[path] != gen {
		return false
	}

	lines := r.Lines(path)
	for i, line := range lines {
		if i >= len(results) {
			break
		}
		r.update(r.byPath[path][line], results[i])
	}
	return true
}

// Apply updates the breakpoint an adapter event refers to. The event is
// matched by source location when it has one, otherwise by server id.
// It returns the updated breakpoint and whether a local entry matched.
func (r *BreakpointRegistry) Apply(update godap.Breakpoint) (Breakpoint, bool) {
	var bp *Breakpoint
	if update.Source != nil && update.Source.Path != "" && update.Line > 0 {
		bp = r.byPath[update.Source.Path][update.Line]
	}
	if bp == nil && update.Id != 0 {
		if key, ok := r.byID[update.Id]; ok {
			bp = r.byPath[key.Path][key.Line]
		}
	}
	if bp == nil {
		return Breakpoint{}, false
	}

	r.update(bp, update)
	return *bp, true
}

func (r *BreakpointRegistry) update(bp *Breakpoint, from godap.Breakpoint) {
	bp.Verified = from.Verified
	bp.Message = from.Message
	if from.Id != 0 && from.Id != bp.ID {
		if bp.ID != 0 {
			delete(r.byID, bp.ID)
		}
		bp.ID = from.Id
		r.byID[bp.ID] = bp.Key()
	}
}

// setBreakpointsArguments mirrors godap.SetBreakpointsArguments but always
// sends the breakpoints array, so clearing a file sends "breakpoints":[].
type setBreakpointsArguments struct {
	Source      godap.Source             `json:"source"`
	Breakpoints []godap.SourceBreakpoint `json:"breakpoints"`
}

func newSetBreakpointsArguments(path string, lines []int) setBreakpointsArguments {
	args := setBreakpointsArguments{
		Source:      godap.Source{Path: path},
		Breakpoints: make([]godap.SourceBreakpoint, 0, len(lines)),
	}
	for _, line := range lines {
		args.Breakpoints = append(args.Breakpoints, godap.SourceBreakpoint{Line: line})
	}
	return args
}

// ToggleBreakpoint adds or removes the breakpoint at path:line and sends the
// file's resulting set to the server. The local change is kept even when
// sending fails; it is pushed again on the next connection. It reports
// whether the breakpoint was added.
func (s *Session) ToggleBreakpoint(path string, line int) (bool, error) {
	if path == "" || line <= 0 {
		return false, fmt.Errorf("%w: %s:%d", ErrInvalidBreakpoint, path, line)
	}

	s.mu.Lock()
	added := s.breakpoints.Toggle(path, line)
	s.mu.Unlock()

	s.notify(ChangeBreakpoints)
	return added, s.syncBreakpoints(path)
}

// syncBreakpoints sends the current breakpoint set of path.
func (s *Session) syncBreakpoints(path string) error {
	s.mu.Lock()
	gen := s.breakpoints.Generation(path)
	lines := s.breakpoints.Lines(path)
	s.mu.Unlock()

	_, err := s.client.Go(dap.CommandSetBreakpoints,
		newSetBreakpointsArguments(path, lines),
		dap.WithCallback(func(call *dap.Call) { s.applyBreakpoints(call, path, gen) }),
	)
	return err
}

func (s *Session) applyBreakpoints(call *dap.Call, path string, gen uint64) {
	body, err := dap.DecodeBody[godap.SetBreakpointsResponseBody](call)
	if err != nil {
		s.logger.Warn("setBreakpoints failed", "path", path, "error", err)
		return
	}

	s.mu.Lock()
	applied := s.breakpoints.Reconcile(path, gen, body.Breakpoints)
	s.mu.Unlock()

	if applied {
		s.notify(ChangeBreakpoints)
	}
}

func (s *Session) handleBreakpoint(evt *dap.Event) {
	var body godap.BreakpointEventBody
	if err := evt.DecodeBody(&body); err != nil {
		s.logger.Warn("ignoring breakpoint event", "error", err)
		return
	}
	s.onBreakpointEvent(body.Reason, body.Breakpoint)
}

// onBreakpointEvent reconciles a server-side breakpoint update. Updates for
// breakpoints the client does not know are logged only.
func (s *Session) onBreakpointEvent(reason string, update godap.Breakpoint) {
	state := "unverified"
	if update.Verified {
		state = "verified"
	}

	s.mu.Lock()
	bp, ok := s.breakpoints.Apply(update)
	if ok {
		s.logf(SeverityInfo, "Breakpoint %s %s", bp.Key(), state)
	} else {
		s.logf(SeverityInfo, "Breakpoint %d %s (%s)", update.Id, state, reason)
	}
	s.mu.Unlock()

	if ok {
		s.notify(ChangeBreakpoints, ChangeConsole)
		return
	}
	s.notify(ChangeConsole)
}
