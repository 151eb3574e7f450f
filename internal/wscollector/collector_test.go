package wscollector

import (
	"testing"
	"time"
)

func TestAdjustLookbackShrinksOnNoGaps(t *testing.T) {
	got := adjustLookback(3*24*time.Hour, 0, 7*24*time.Hour)
	if want := 2 * 24 * time.Hour; got != want {
		t.Fatalf("adjustLookback() = %v, want %v", got, want)
	}
}

func TestAdjustLookbackShrinkFloorsAtOneDay(t *testing.T) {
	got := adjustLookback(24*time.Hour, 0, 7*24*time.Hour)
	if want := 24 * time.Hour; got != want {
		t.Fatalf("adjustLookback() = %v, want %v", got, want)
	}
}

func TestAdjustLookbackGrowsOnGapsFound(t *testing.T) {
	got := adjustLookback(2*24*time.Hour, 5, 7*24*time.Hour)
	if want := 3 * 24 * time.Hour; got != want {
		t.Fatalf("adjustLookback() = %v, want %v", got, want)
	}
}

func TestAdjustLookbackGrowCapsAtMaxLookback(t *testing.T) {
	got := adjustLookback(7*24*time.Hour, 3, 7*24*time.Hour)
	if want := 7 * 24 * time.Hour; got != want {
		t.Fatalf("adjustLookback() = %v, want %v", got, want)
	}
}
