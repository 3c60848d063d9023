package logging

import (
	"errors"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("op", "s-1", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	base := errors.New("boom")

	err := NewOperationError("cache.get", "s-1", base)
	if got, want := err.Error(), "cache.get (session_id=s-1): boom"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}

	err = NewOperationError("cache.get", "", base)
	if got, want := err.Error(), "cache.get: boom"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}
}
