package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/magi8101/ariadbg/internal/debug"
	"github.com/magi8101/ariadbg/internal/debug/dap"
)

// errQuit ends the console without being reported as a failure.
var errQuit = errors.New("quit")

// maxExpandDepth bounds how deep expanded children are printed.
const maxExpandDepth = 8

// connector re-establishes the connection after stop.
type connector interface {
	Connect(ctx context.Context) error
}

type command struct {
	names []string
	args  string
	help  string
	// needs lists the controls that must be enabled to run the command.
	needs debug.Controls
	run   func(r *repl, ctx context.Context, arg string) error
}

type repl struct {
	ctl      *debug.Controller
	session  *debug.Session
	conn     connector
	out      *printer
	commands []*command
	index    map[string]*command
}

func newREPL(ctl *debug.Controller, conn connector, out *printer) *repl {
	r := &repl{
		ctl:     ctl,
		session: ctl.Session(),
		conn:    conn,
		out:     out,
		index:   make(map[string]*command),
	}
	r.commands = []*command{
		{names: []string{"help", "h", "?"}, help: "show this help", run: (*repl).help},
		{names: []string{"status"}, help: "show connection and execution state", run: (*repl).status},
		{names: []string{"continue", "c"}, help: "resume execution", needs: debug.ControlContinue, run: control((*debug.Controller).Continue)},
		{names: []string{"pause", "p"}, help: "pause execution", needs: debug.ControlPause, run: control((*debug.Controller).Pause)},
		{names: []string{"next", "n"}, help: "step over the current line", needs: debug.ControlStepOver, run: control((*debug.Controller).StepOver)},
		{names: []string{"step", "s"}, help: "step into the call on the current line", needs: debug.ControlStepInto, run: control((*debug.Controller).StepInto)},
		{names: []string{"out", "o"}, help: "step out of the current function", needs: debug.ControlStepOut, run: control((*debug.Controller).StepOut)},
		{names: []string{"restart", "r"}, help: "restart the program", needs: debug.ControlRestart, run: control((*debug.Controller).Restart)},
		{names: []string{"stop"}, help: "end the debug session and disconnect", run: (*repl).stop},
		{names: []string{"connect"}, help: "reconnect after stop", run: (*repl).connect},
		{names: []string{"break", "b"}, args: "<file>:<line>", help: "toggle a breakpoint", run: (*repl).toggleBreakpoint},
		{names: []string{"breakpoints", "bl"}, help: "list breakpoints", run: (*repl).listBreakpoints},
		{names: []string{"print", "eval", "e"}, args: "<expr>", help: "evaluate an expression in the active frame", needs: debug.ControlEvaluate, run: (*repl).evaluate},
		{names: []string{"bt", "stack"}, help: "show the call stack", run: (*repl).backtrace},
		{names: []string{"frame", "f"}, args: "<id>", help: "select a stack frame", run: (*repl).selectFrame},
		{names: []string{"vars", "v"}, help: "show scopes and variables of the active frame", run: (*repl).variables},
		{names: []string{"expand", "x"}, args: "<ref>", help: "load the children of a variable", run: (*repl).expand},
		{names: []string{"log"}, help: "print the whole session console", run: (*repl).log},
		{names: []string{"clear"}, help: "clear the session console", run: (*repl).clear},
		{names: []string{"quit", "q", "exit"}, help: "leave ariadbg", run: func(*repl, context.Context, string) error { return errQuit }},
	}
	for _, cmd := range r.commands {
		for _, name := range cmd.names {
			r.index[name] = cmd
		}
	}
	return r
}

// run reads commands from in until ctx is done, end of input or quit.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return errQuit
			}
			if err := r.execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return errQuit
				}
				r.out.printf("error: %v\n", err)
			}
		}
	}
}

// execute runs one command line.
func (r *repl) execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, arg, _ := strings.Cut(line, " ")
	cmd, ok := r.index[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown command %q (try \"help\")", name)
	}
	if cmd.needs != 0 && !r.session.Controls().Has(cmd.needs) {
		return fmt.Errorf("%s is not available while %s", cmd.names[0], r.state())
	}
	return cmd.run(r, ctx, strings.TrimSpace(arg))
}

func (r *repl) state() string {
	if conn := r.session.ConnectionStatus(); conn != dap.StatusConnected {
		return strings.ToLower(conn.String())
	}
	return strings.ToLower(r.session.ExecutionStatus().String())
}

func control(fn func(*debug.Controller) (*dap.Call, error)) func(*repl, context.Context, string) error {
	return func(r *repl, _ context.Context, _ string) error {
		_, err := fn(r.ctl)
		return err
	}
}

func (r *repl) help(context.Context, string) error {
	var b strings.Builder
	for _, cmd := range r.commands {
		usage := strings.Join(cmd.names, ", ")
		if cmd.args != "" {
			usage += " " + cmd.args
		}
		fmt.Fprintf(&b, "  %-28s %s\n", usage, cmd.help)
	}
	r.out.printf("%s", b.String())
	return nil
}

func (r *repl) status(context.Context, string) error {
	r.out.printf("connection: %s\nexecution:  %s\nready:      %t\ncontrols:   %s\n",
		r.session.ConnectionStatus(),
		r.session.ExecutionStatus(),
		r.session.Ready(),
		r.session.Controls(),
	)
	return nil
}

func (r *repl) stop(ctx context.Context, _ string) error {
	return r.ctl.Stop(ctx)
}

func (r *repl) connect(ctx context.Context, _ string) error {
	return r.conn.Connect(ctx)
}

// parseLocation parses "file:line". The last colon separates the line so
// paths containing colons work.
func parseLocation(s string) (string, int, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("expected <file>:<line>, got %q", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid line number %q", s[i+1:])
	}
	return s[:i], line, nil
}

func (r *repl) toggleBreakpoint(_ context.Context, arg string) error {
	path, line, err := parseLocation(arg)
	if err != nil {
		return err
	}
	added, err := r.ctl.ToggleBreakpoint(path, line)
	verb := "removed"
	if added {
		verb = "set"
	}
	if errors.Is(err, dap.ErrNotConnected) {
		r.out.muted("Breakpoint %s at %s:%d, sent when connected", verb, path, line)
		return nil
	}
	if err != nil {
		return err
	}
	r.out.muted("Breakpoint %s at %s:%d", verb, path, line)
	return nil
}

func (r *repl) listBreakpoints(context.Context, string) error {
	bps := r.session.AllBreakpoints()
	if len(bps) == 0 {
		r.out.muted("No breakpoints")
		return nil
	}
	var b strings.Builder
	for _, bp := range bps {
		state := "pending"
		if bp.Verified {
			state = "verified"
		}
		fmt.Fprintf(&b, "  %s:%d  %s", bp.Path, bp.Line, state)
		if bp.ID > 0 {
			fmt.Fprintf(&b, " (id %d)", bp.ID)
		}
		if bp.Message != "" {
			fmt.Fprintf(&b, "  %s", bp.Message)
		}
		b.WriteByte('\n')
	}
	r.out.printf("%s", b.String())
	return nil
}

func (r *repl) evaluate(ctx context.Context, expr string) error {
	res, err := r.ctl.Evaluate(ctx, expr)
	if errors.Is(err, debug.ErrEmptyExpression) {
		return nil
	}
	if err != nil {
		return err
	}
	out := "= " + res.Result
	if res.Type != "" {
		out += " (" + res.Type + ")"
	}
	if res.VariablesReference > 0 {
		out += fmt.Sprintf(" [expand %d]", res.VariablesReference)
	}
	r.out.printf("%s\n", out)
	return nil
}

func (r *repl) backtrace(context.Context, string) error {
	stack := r.session.Stack()
	if len(stack) == 0 {
		r.out.muted("No stack")
		return nil
	}
	active, ok := r.session.ActiveFrame()
	r.out.printf("%s", formatStack(stack, active, ok))
	return nil
}

// formatStack renders one line per frame and marks active when hasActive.
func formatStack(stack []debug.StackFrame, active debug.StackFrame, hasActive bool) string {
	var b strings.Builder
	for _, f := range stack {
		marker := " "
		if hasActive && f.ID == active.ID {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %-6d %-24s %s\n", marker, f.ID, f.Name, f.FormatLocation())
	}
	return b.String()
}

func (r *repl) selectFrame(_ context.Context, arg string) error {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid frame id %q", arg)
	}
	return r.ctl.SelectFrame(id)
}

func (r *repl) variables(context.Context, string) error {
	scopes := r.session.Scopes()
	if len(scopes) == 0 {
		r.out.muted("No variables")
		return nil
	}
	var b strings.Builder
	for i, scope := range scopes {
		fmt.Fprintf(&b, "%s:\n", scope.Name)
		if i > 0 {
			// Only the first scope is loaded automatically.
			fmt.Fprintf(&b, "  (expand %d)\n", scope.VariablesReference)
			continue
		}
		r.writeVariables(&b, r.session.Variables(), 1, map[int]bool{})
	}
	r.out.printf("%s", b.String())
	return nil
}

func (r *repl) writeVariables(b *strings.Builder, vars []debug.Variable, depth int, seen map[int]bool) {
	indent := strings.Repeat("  ", depth)
	for _, v := range vars {
		fmt.Fprintf(b, "%s%s = %s", indent, v.Name, v.Value)
		if v.Type != "" {
			fmt.Fprintf(b, " (%s)", v.Type)
		}
		if !v.Expandable() {
			b.WriteByte('\n')
			continue
		}
		children, loaded := r.session.Children(v.VariablesReference)
		if !loaded || seen[v.VariablesReference] || depth >= maxExpandDepth {
			fmt.Fprintf(b, " [expand %d]\n", v.VariablesReference)
			continue
		}
		b.WriteByte('\n')
		seen[v.VariablesReference] = true
		r.writeVariables(b, children, depth+1, seen)
	}
}

func (r *repl) expand(_ context.Context, arg string) error {
	ref, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid variables reference %q", arg)
	}
	return r.ctl.ExpandVariable(ref)
}

func (r *repl) log(context.Context, string) error {
	r.out.replay(r.session.Console())
	return nil
}

func (r *repl) clear(context.Context, string) error {
	r.session.ClearConsole()
	return nil
}
