// Package result defines run outcomes and the rules that assign them.
package result

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Outcome is the canonical result code returned to callers.
type Outcome int

const (
	CompilationError    Outcome = 11
	RuntimeError        Outcome = 12
	TimeLimitExceeded   Outcome = 13
	Success             Outcome = 15
	MemoryLimitExceeded Outcome = 17
	IllegalSyscall      Outcome = 19
	InternalError       Outcome = 20
	ServerOverload      Outcome = 21
)

var outcomeNames = map[Outcome]string{
	CompilationError:    "CompilationError",
	RuntimeError:        "RuntimeError",
	TimeLimitExceeded:   "TimeLimitExceeded",
	Success:             "Success",
	MemoryLimitExceeded: "MemoryLimitExceeded",
	IllegalSyscall:      "IllegalSyscall",
	InternalError:       "InternalError",
	ServerOverload:      "ServerOverload",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

const (
	timeLimitMarker = "timelimit exceeded"
	segfaultMarker  = "terminated with signal 11"
)

// Evidence is what a finished job leaves behind for classification.
type Evidence struct {
	CmpInfo string
	// Stderr is exactly what runguard and the program wrote.
	Stderr string
	// FilteredStderr is Stderr after the language's noise filter.
	FilteredStderr string
}

// Diagnosis is the classified outcome of a job.
type Diagnosis struct {
	Outcome Outcome
	Signal  int
	// Stderr is the text to report: FilteredStderr, or empty when a
	// runguard warning was consumed.
	Stderr string
}

// Classify maps evidence to an outcome. It has no side effects.
func Classify(ev Evidence) Diagnosis {
	if ev.CmpInfo != "" {
		return Diagnosis{Outcome: CompilationError, Stderr: ev.FilteredStderr}
	}
	d := Diagnosis{Outcome: Success, Stderr: ev.FilteredStderr}
	if ev.FilteredStderr != "" {
		d.Outcome = RuntimeError
	}
	switch {
	case strings.Contains(ev.Stderr, timeLimitMarker):
		d.Outcome = TimeLimitExceeded
		d.Signal = 9
		d.Stderr = ""
	case strings.Contains(ev.Stderr, segfaultMarker):
		d.Signal = 11
		d.Stderr = ""
	}
	return d
}

// Sanitize returns s unchanged when it is valid UTF-8. Otherwise control
// bytes other than \n, \r and \t and all bytes above 0x7E are hex-escaped.
func Sanitize(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\n' || c == '\r' || c == '\t':
			b.WriteByte(c)
		case c < 0x20 || c > 0x7E:
			fmt.Fprintf(&b, "\\x%02x", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Result is the job result handed back to the caller.
type Result struct {
	RunID   string  `json:"run_id"`
	Outcome Outcome `json:"outcome"`
	CmpInfo string  `json:"cmpinfo"`
	Stdout  string  `json:"stdout"`
	Stderr  string  `json:"stderr"`
}

// Sanitized returns r with every text field passed through Sanitize.
func (r Result) Sanitized() Result {
	r.CmpInfo = Sanitize(r.CmpInfo)
	r.Stdout = Sanitize(r.Stdout)
	r.Stderr = Sanitize(r.Stderr)
	return r
}

// Overload is the result reported when no slot became free in time.
func Overload() Result {
	return Result{Outcome: ServerOverload}
}
