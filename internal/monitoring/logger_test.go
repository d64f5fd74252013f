package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestStreamLogger_RoutesStreams(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	l := NewStreamLogger("kde", &ops, &diag, &trace)

	l.Opsf("refused %s", "frame")
	l.Diagf("estimated %d pixels", 100)
	l.Tracef("frame %d", 7)

	if !strings.Contains(ops.String(), "[kde] refused frame") {
		t.Errorf("ops stream = %q", ops.String())
	}
	if !strings.Contains(diag.String(), "[kde] estimated 100 pixels") {
		t.Errorf("diag stream = %q", diag.String())
	}
	if !strings.Contains(trace.String(), "[kde] frame 7") {
		t.Errorf("trace stream = %q", trace.String())
	}
}

func TestStreamLogger_NilWritersDisableStreams(t *testing.T) {
	var diag bytes.Buffer
	l := NewStreamLogger("kde", nil, &diag, nil)

	// Must not panic on disabled streams.
	l.Opsf("dropped")
	l.Tracef("dropped")
	l.Diagf("kept")

	if got := diag.String(); !strings.Contains(got, "kept") || strings.Contains(got, "dropped") {
		t.Errorf("diag stream = %q", got)
	}
}

func TestStreamLogger_NilReceiver(t *testing.T) {
	var l *StreamLogger
	l.Opsf("x")
	l.Diagf("x")
	l.Tracef("x")
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	rec := &Recorder{}
	if OrNop(rec) != Logger(rec) {
		t.Error("OrNop should return the provided logger")
	}
	Nop().Opsf("ignored %d", 1)
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	rec.Opsf("a=%d", 1)
	rec.Diagf("b=%d", 2)
	rec.Tracef("c=%d", 3)
	if len(rec.Ops) != 1 || rec.Ops[0] != "a=1" {
		t.Errorf("Ops = %v", rec.Ops)
	}
	if len(rec.Diag) != 1 || rec.Diag[0] != "b=2" {
		t.Errorf("Diag = %v", rec.Diag)
	}
	if len(rec.Trace) != 1 || rec.Trace[0] != "c=3" {
		t.Errorf("Trace = %v", rec.Trace)
	}
}
