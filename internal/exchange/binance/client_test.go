package binance

import (
	"context"
	"errors"
	"testing"

	"github.com/datacat-io/ingest/internal/apperr"
)

func TestParseRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 60},
		{"5", 5},
		{"not-a-number", 60},
		{"0", 60},
		{"-3", 60},
	}
	for _, tc := range cases {
		if got := parseRetryAfterSeconds(tc.in); got != tc.want {
			t.Fatalf("parseRetryAfterSeconds(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRetryTransientSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := retryTransient(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return apperr.New(apperr.KindTransient, "timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryTransient() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryTransientDoesNotRetryNonTransientErrors(t *testing.T) {
	attempts := 0
	wantErr := apperr.New(apperr.KindBanned, "418")
	err := retryTransient(context.Background(), func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, error(wantErr)) && err != wantErr {
		t.Fatalf("retryTransient() error = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on a non-transient error)", attempts)
	}
}

func TestRetryTransientGivesUpAfterFourAttempts(t *testing.T) {
	attempts := 0
	err := retryTransient(context.Background(), func() error {
		attempts++
		return apperr.New(apperr.KindTransient, "still failing")
	})
	if err == nil {
		t.Fatalf("expected an error once attempts are exhausted")
	}
	if attempts != 4 {
		t.Fatalf("attempts = %d, want 4", attempts)
	}
}
