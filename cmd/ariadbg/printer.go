package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/magi8101/ariadbg/internal/debug"
)

// printer serializes everything written to the terminal. Session change
// notifications arrive on protocol goroutines while the REPL writes from
// its own.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	lastSeq uint64

	timeStyle     lipgloss.Style
	severityStyle map[debug.Severity]lipgloss.Style
	locationStyle lipgloss.Style
	mutedStyle    lipgloss.Style
}

func newPrinter(out io.Writer) *printer {
	r := lipgloss.NewRenderer(out)
	return &printer{
		out:       out,
		timeStyle: r.NewStyle().Foreground(lipgloss.Color("244")),
		severityStyle: map[debug.Severity]lipgloss.Style{
			debug.SeverityInfo:    r.NewStyle().Foreground(lipgloss.Color("252")),
			debug.SeveritySuccess: r.NewStyle().Foreground(lipgloss.Color("42")),
			debug.SeverityWarning: r.NewStyle().Foreground(lipgloss.Color("214")),
			debug.SeverityError:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		},
		locationStyle: r.NewStyle().Foreground(lipgloss.Color("33")).Bold(true),
		mutedStyle:    r.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// muted writes a line in the de-emphasized style.
func (p *printer) muted(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.mutedStyle.Render(fmt.Sprintf(format, args...)))
}

// console writes the entries not printed before.
func (p *printer) console(entries []debug.ConsoleEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		if e.Seq <= p.lastSeq {
			continue
		}
		p.lastSeq = e.Seq
		p.writeEntry(e)
	}
}

// replay writes every entry, including those already shown.
func (p *printer) replay(entries []debug.ConsoleEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		p.writeEntry(e)
		if e.Seq > p.lastSeq {
			p.lastSeq = e.Seq
		}
	}
}

func (p *printer) writeEntry(e debug.ConsoleEntry) {
	style, ok := p.severityStyle[e.Severity]
	if !ok {
		style = p.severityStyle[debug.SeverityInfo]
	}
	fmt.Fprintf(p.out, "%s %s\n", p.timeStyle.Render(e.Time.Format("15:04:05")), style.Render(e.Text))
}

// location announces the frame the session is paused in.
func (p *printer) location(frame debug.StackFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", p.locationStyle.Render("at "+frame.FormatLocation()), frame.Name)
}

// follow returns a session subscriber that echoes console entries and the
// active frame as they change.
func (p *printer) follow(session *debug.Session) func(debug.Change) {
	return func(c debug.Change) {
		switch c.Kind {
		case debug.ChangeConsole:
			p.console(session.Console())
		case debug.ChangeActiveFrame:
			if frame, ok := session.ActiveFrame(); ok {
				p.location(frame)
			}
		}
	}
}
