package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireReleaseBasic(t *testing.T) {
	l, err := New(Options{RatePerMinute: 600, MaxConcurrent: 2, StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := l.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()
}

func TestSetBanHonouredAcrossAcquires(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{RatePerMinute: 2400, MaxConcurrent: 5, StateDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	until := time.Now().Add(300 * time.Millisecond)
	if err := l.SetBan(until); err != nil {
		t.Fatalf("SetBan: %v", err)
	}

	// A second Limiter instance pointed at the same state dir models a peer
	// process; it must also honour the ban (spec.md §8 S5).
	peer, err := New(Options{RatePerMinute: 2400, MaxConcurrent: 5, StateDir: dir})
	if err != nil {
		t.Fatalf("New peer: %v", err)
	}

	deadline := until.Add(5 * time.Second)
	if err := peer.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	peer.Release()

	if time.Now().Before(deadline.Add(-50 * time.Millisecond)) {
		t.Fatalf("acquire returned before ban deadline + 5s grace")
	}
}

func TestSetBanMonotonic(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{RatePerMinute: 2400, MaxConcurrent: 5, StateDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	later := time.Now().Add(2 * time.Second)
	earlier := time.Now().Add(time.Second)

	if err := l.SetBan(later); err != nil {
		t.Fatalf("SetBan later: %v", err)
	}
	if err := l.SetBan(earlier); err != nil {
		t.Fatalf("SetBan earlier: %v", err)
	}
	got, err := l.readBan()
	if err != nil {
		t.Fatalf("readBan: %v", err)
	}
	if got.Before(later.Add(-time.Millisecond)) {
		t.Fatalf("SetBan must not lower the deadline: got %v, want >= %v", got, later)
	}
}

func TestParseBan(t *testing.T) {
	got := ParseBan("banned until 1800000000000 due to excessive requests")
	want := time.UnixMilli(1800000000000)
	if !got.Equal(want) {
		t.Fatalf("ParseBan = %v, want %v", got, want)
	}
}

func TestParseBanFallback(t *testing.T) {
	before := time.Now().Add(59 * time.Second)
	got := ParseBan("no ban info here")
	after := time.Now().Add(61 * time.Second)
	if got.Before(before) || got.After(after) {
		t.Fatalf("ParseBan fallback = %v, want ~now+60s", got)
	}
}
