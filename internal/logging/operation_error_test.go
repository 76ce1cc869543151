package logging

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "timeout" }
func (timeoutError) Timeout() bool { return true }

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorFormatting(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("pipeline.load", "run-1", base)
	if got, want := err.Error(), "pipeline.load (request_id=run-1): boom"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to find the wrapped error")
	}

	err = NewOperationError("pipeline.load", "", base)
	if got, want := err.Error(), "pipeline.load: boom"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"timeout", timeoutError{}, true},
		{"operation wrapped", NewOperationError("op", "", timeoutError{}), true},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	lvl, err := ParseLevel("DEBUG")
	if err != nil || lvl.String() != "debug" {
		t.Fatalf("unexpected level %v err %v", lvl, err)
	}
}
