package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New(KindNotFound, "archive missing")
	wrapped := fmt.Errorf("fetch day: %w", base)

	if got := KindOf(wrapped); got != KindNotFound {
		t.Fatalf("KindOf() = %q, want %q", got, KindNotFound)
	}
}

func TestKindOfDefaultsToTransient(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindTransient {
		t.Fatalf("KindOf() = %q, want %q", got, KindTransient)
	}
}

func TestAsFindsDeeplyWrappedError(t *testing.T) {
	base := Wrap(KindBanned, "418 from binance", errors.New("raw"))
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", base))

	var e *Error
	if !As(wrapped, &e) {
		t.Fatalf("As() = false, want true")
	}
	if e.Kind != KindBanned {
		t.Fatalf("As() kind = %q, want %q", e.Kind, KindBanned)
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("ExitCode(nil) = %d, want 0", got)
	}
	if got := ExitCode(New(KindConfig, "bad env")); got != 1 {
		t.Fatalf("ExitCode(config err) = %d, want 1", got)
	}
	if got := ExitCode(New(KindTransient, "timeout")); got != 1 {
		t.Fatalf("ExitCode(transient err) = %d, want 1", got)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(KindParse, "bad row", errors.New("short row"))
	want := "parse: bad row: short row"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
