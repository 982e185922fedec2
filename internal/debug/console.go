package debug

import "time"

// Severity classifies a console entry.
type Severity int

const (
	// SeverityInfo is a routine lifecycle message.
	SeverityInfo Severity = iota
	// SeveritySuccess marks a completed step such as connecting.
	SeveritySuccess
	// SeverityWarning marks a recoverable problem.
	SeverityWarning
	// SeverityError marks a failure or a lost connection.
	SeverityError
)

// String returns a string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// ConsoleEntry is one line of the session console.
type ConsoleEntry struct {
	// Seq increases by one per entry for the life of the session and is
	// not reset by clearing.
	Seq      uint64
	Time     time.Time
	Severity Severity
	Text     string
}

// Console is an append-only session log. It is not safe for concurrent
// use; Session guards it.
type Console struct {
	entries []ConsoleEntry
	seq     uint64
	limit   int
	now     func() time.Time
}

// newConsole creates a console keeping at most limit entries (0 = unbounded).
func newConsole(limit int, now func() time.Time) *Console {
	if now == nil {
		now = time.Now
	}
	return &Console{limit: limit, now: now}
}

func (c *Console) append(severity Severity, text string) ConsoleEntry {
	c.seq++
	entry := ConsoleEntry{Seq: c.seq, Time: c.now(), Severity: severity, Text: text}
	c.entries = append(c.entries, entry)
	if c.limit > 0 && len(c.entries) > c.limit {
		// Oldest entries go first.
		c.entries = append(c.entries[:0:0], c.entries[len(c.entries)-c.limit:]...)
	}
	return entry
}

func (c *Console) snapshot() []ConsoleEntry {
	return append([]ConsoleEntry(nil), c.entries...)
}

func (c *Console) clear() {
	c.entries = nil
}
