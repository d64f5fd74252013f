// Package monitoring provides the logging collaborator shared by the
// background subtraction packages.
//
// Logging is split into three streams, following the convention used across
// the pipeline:
//   - ops:   actionable warnings, errors, refused calls
//   - diag:  day-to-day diagnostics and tuning context
//   - trace: high-frequency per-frame telemetry
//
// A Logger is passed to each model explicitly; nothing in this package holds
// process-wide state.
package monitoring

import (
	"fmt"
	"io"
	"log"
)

// Logger is the logging collaborator injected into models and pipelines.
type Logger interface {
	Opsf(format string, args ...interface{})
	Diagf(format string, args ...interface{})
	Tracef(format string, args ...interface{})
}

// StreamLogger writes each stream to its own io.Writer. A nil writer
// disables that stream.
type StreamLogger struct {
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// NewStreamLogger creates a StreamLogger whose lines are prefixed with
// "[prefix] ".
func NewStreamLogger(prefix string, ops, diag, trace io.Writer) *StreamLogger {
	p := "[" + prefix + "] "
	return &StreamLogger{
		ops:   newLogger(p, ops),
		diag:  newLogger(p, diag),
		trace: newLogger(p, trace),
	}
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (l *StreamLogger) Opsf(format string, args ...interface{}) {
	if l != nil && l.ops != nil {
		l.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (l *StreamLogger) Diagf(format string, args ...interface{}) {
	if l != nil && l.diag != nil {
		l.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (l *StreamLogger) Tracef(format string, args ...interface{}) {
	if l != nil && l.trace != nil {
		l.trace.Printf(format, args...)
	}
}

type nopLogger struct{}

func (nopLogger) Opsf(string, ...interface{})   {}
func (nopLogger) Diagf(string, ...interface{})  {}
func (nopLogger) Tracef(string, ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// Recorder captures formatted lines per stream. It is safe for use from a
// single goroutine and is intended for tests.
type Recorder struct {
	Ops   []string
	Diag  []string
	Trace []string
}

func (r *Recorder) Opsf(format string, args ...interface{}) {
	r.Ops = append(r.Ops, fmt.Sprintf(format, args...))
}

func (r *Recorder) Diagf(format string, args ...interface{}) {
	r.Diag = append(r.Diag, fmt.Sprintf(format, args...))
}

func (r *Recorder) Tracef(format string, args ...interface{}) {
	r.Trace = append(r.Trace, fmt.Sprintf(format, args...))
}
