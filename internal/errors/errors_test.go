package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(G0001, "spawn", "invalid priority %d", 9)
	want := "G0001: spawn: invalid priority 9"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	wrapped := Wrap(G0002, "stack.allocate", stderrors.New("mmap: cannot allocate memory"))
	if !strings.Contains(wrapped.Error(), "mmap: cannot allocate memory") {
		t.Errorf("Expected wrapped message, got %q", wrapped.Error())
	}
	info, _ := GetErrorInfo(G0002)
	if !strings.Contains(wrapped.Error(), info.Message) {
		t.Errorf("Expected default message for code, got %q", wrapped.Error())
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(G0004, "resume", "thread finished"))
	if !Is(err, ErrThreadDead) {
		t.Errorf("Expected ErrThreadDead to match")
	}
	if Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument not to match")
	}
	if !Is(err, &Error{Code: G0004, Op: "resume"}) {
		t.Errorf("Expected op-qualified target to match")
	}
	if Is(err, &Error{Code: G0004, Op: "join"}) {
		t.Errorf("Expected different op not to match")
	}
	if CodeOf(err) != G0004 {
		t.Errorf("Expected code G0004, got %s", CodeOf(err))
	}
	if CodeOf(stderrors.New("plain")) != "" {
		t.Errorf("Expected empty code for plain error")
	}
}

func TestUnwrap(t *testing.T) {
	inner := stderrors.New("boom")
	err := Wrap(G0007, "switch", inner)
	if !Is(err, inner) {
		t.Errorf("Expected inner error to be reachable")
	}
	var e *Error
	if !As(err, &e) || e.Op != "switch" {
		t.Errorf("Expected As to extract *Error")
	}
}

func TestLastError(t *testing.T) {
	ClearLast()
	if Last() != nil || LastMessage() != "" {
		t.Errorf("Expected empty last error")
	}

	err := New(G0008, "join", "no runnable threads")
	if got := SetLast(err); got != err {
		t.Errorf("SetLast should return its argument")
	}
	if !Is(Last(), ErrDeadlock) {
		t.Errorf("Expected last error to be deadlock, got %v", Last())
	}
	if !strings.Contains(LastMessage(), "no runnable threads") {
		t.Errorf("Unexpected message %q", LastMessage())
	}

	SetLast(nil)
	if !Is(Last(), ErrDeadlock) {
		t.Errorf("SetLast(nil) should not clear the slot")
	}
	ClearLast()
	if Last() != nil {
		t.Errorf("Expected cleared slot")
	}
}

func TestCodeTable(t *testing.T) {
	for _, c := range []Code{G0001, G0002, G0003, G0004, G0005, G0006, G0007, G0008, G0009} {
		info, ok := GetErrorInfo(c)
		if !ok || info.Message == "" {
			t.Errorf("Missing message for %s", c)
		}
		if c.String() != info.Message {
			t.Errorf("Expected String() to return message for %s", c)
		}
	}
}
