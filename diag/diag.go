// Package diag carries source positions and failure reports for the
// compilation pipeline.
//
// Every stage reports problems as Diagnostics rather than logging them.
// A Bag collects diagnostics from concurrent workers; a List aggregates
// them into a single error value returned to the caller.
package diag

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Span identifies a source location carried through lowering as
// provenance metadata.
type Span struct {
	File string
	Line uint32
	Col  uint32
}

// IsValid reports whether the span points at a real location.
func (s Span) IsValid() bool {
	return s.File != "" || s.Line != 0
}

func (s Span) String() string {
	if !s.IsValid() {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// Severity distinguishes hard failures from advisory reports.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// Class describes who is responsible for a failure.
//
// Internal failures are producer-contract violations and abort the whole
// session. UserFacing failures are recoverable per function or module.
// External failures come back from the validator tool.
type Class uint8

const (
	Internal Class = iota
	UserFacing
	External
)

func (c Class) String() string {
	switch c {
	case Internal:
		return "internal"
	case UserFacing:
		return "user"
	case External:
		return "external"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Classifier is implemented by errors that know their diagnostic class.
type Classifier interface {
	DiagnosticClass() Class
}

// Positioner is implemented by errors that carry a source span.
type Positioner interface {
	DiagnosticSpan() Span
}

// Diagnostic is one failure or advisory report with its source span and
// structural context.
type Diagnostic struct {
	Severity Severity
	Class    Class
	Message  string
	Span     Span
	Function string // symbol of the function being processed, if any
	Context  string // structural context at failure: "block 3", "loop depth 2"
	Err      error  // underlying error, when the diagnostic wraps one
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Span.IsValid() {
		b.WriteString(d.Span.String())
		b.WriteString(": ")
	}
	b.WriteString(d.Severity.String())
	b.WriteString(": ")
	if d.Class == Internal {
		b.WriteString("internal: ")
	}
	b.WriteString(d.Message)
	if d.Function != "" || d.Context != "" {
		b.WriteString(" [")
		if d.Function != "" {
			b.WriteString("in ")
			b.WriteString(d.Function)
		}
		if d.Context != "" {
			if d.Function != "" {
				b.WriteString(", ")
			}
			b.WriteString(d.Context)
		}
		b.WriteString("]")
	}
	return b.String()
}

// FromError converts err into an error diagnostic, honoring the
// Classifier and Positioner interfaces when the error provides them.
func FromError(err error, function string) Diagnostic {
	d := Diagnostic{
		Severity: SeverityError,
		Class:    UserFacing,
		Message:  err.Error(),
		Function: function,
		Err:      err,
	}
	var cl Classifier
	if errors.As(err, &cl) {
		d.Class = cl.DiagnosticClass()
	}
	var pos Positioner
	if errors.As(err, &pos) {
		d.Span = pos.DiagnosticSpan()
	}
	return d
}

// InternalError reports a violated producer invariant. It is always
// fatal for the session.
type InternalError struct {
	Message  string
	Span     Span
	Function string
}

func (e *InternalError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("internal error in %s: %s", e.Function, e.Message)
	}
	return "internal error: " + e.Message
}

// DiagnosticClass marks the error as Internal.
func (e *InternalError) DiagnosticClass() Class { return Internal }

// DiagnosticSpan returns the source span, when known.
func (e *InternalError) DiagnosticSpan() Span { return e.Span }

// Internalf builds an InternalError with a formatted message.
func Internalf(format string, args ...any) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

// Bag collects diagnostics during compilation. It is safe for
// concurrent use by worker goroutines.
type Bag struct {
	mu     sync.Mutex
	diags  []Diagnostic
	errors int
	fatal  bool
}

// NewBag creates an empty diagnostic bag.
func NewBag() *Bag {
	return &Bag{}
}

// Add records a diagnostic.
func (b *Bag) Add(d Diagnostic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diags = append(b.diags, d)
	if d.Severity == SeverityError {
		b.errors++
		if d.Class == Internal {
			b.fatal = true
		}
	}
}

// AddError records err as a diagnostic attributed to function.
func (b *Bag) AddError(err error, function string) {
	b.Add(FromError(err, function))
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (b *Bag) HasErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errors > 0
}

// Fatal reports whether an internal-class error was recorded. A fatal
// bag means the session must discard all partial results.
func (b *Bag) Fatal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fatal
}

// Len returns the number of recorded diagnostics.
func (b *Bag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.diags)
}

// Diagnostics returns a copy of all recorded diagnostics.
func (b *Bag) Diagnostics() []Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Diagnostic, len(b.diags))
	copy(out, b.diags)
	return out
}

// List returns the recorded diagnostics as an error, or nil when no
// error-severity diagnostic was recorded.
func (b *Bag) List() *List {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errors == 0 {
		return nil
	}
	out := make([]Diagnostic, len(b.diags))
	copy(out, b.diags)
	return &List{Diags: out}
}

// List is a collection of diagnostics that satisfies the error
// interface. Formatting yields one line per diagnostic.
type List struct {
	Diags []Diagnostic
}

func (l *List) Error() string {
	n := 0
	for _, d := range l.Diags {
		if d.Severity == SeverityError {
			n++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "compilation failed with %d error(s)", n)
	for _, d := range l.Diags {
		b.WriteString("\n")
		b.WriteString(d.String())
	}
	return b.String()
}

// Unwrap exposes the underlying errors so callers can match concrete
// failure types with errors.As.
func (l *List) Unwrap() []error {
	var errs []error
	for _, d := range l.Diags {
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return errs
}

// Errors returns only the error-severity diagnostics.
func (l *List) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range l.Diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}
