package wscollector

import (
	"testing"
	"time"

	"github.com/datacat-io/ingest/internal/model"
)

func TestCoalescingBufferSizeTrigger(t *testing.T) {
	// spec.md §8 S1: MAX_BUFFER=3, three rows appended -> size-triggered.
	buf := newCoalescingBuffer(3)

	triggered := false
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		if buf.add(model.Candle{Symbol: sym}) {
			triggered = true
		}
	}
	if !triggered {
		t.Fatalf("expected size trigger once the buffer reached MAX_BUFFER")
	}

	rows := buf.swap()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows in the flushed batch, got %d", len(rows))
	}
	if buf.len() != 0 {
		t.Fatalf("expected buffer to be empty after swap, got %d", buf.len())
	}
}

func TestCoalescingBufferWindowTrigger(t *testing.T) {
	// spec.md §8 S2: MAX_BUFFER=100, two rows, no size trigger; time-based
	// flush is driven by the collector's flushLoop, not the buffer itself —
	// this test only asserts that neither add size-triggers, that
	// sinceLastAdd is under the window right after an add, and that both
	// rows stay buffered. It does not wait for the window to elapse.
	buf := newCoalescingBuffer(100)

	if buf.add(model.Candle{Symbol: "AAA"}) {
		t.Fatalf("did not expect a size trigger with only 1/100 rows")
	}
	if buf.sinceLastAdd() >= 3*time.Second {
		t.Fatalf("expected sinceLastAdd to be well under the flush window immediately after add")
	}

	time.Sleep(10 * time.Millisecond)
	if buf.add(model.Candle{Symbol: "BBB"}) {
		t.Fatalf("did not expect a size trigger with only 2/100 rows")
	}
	if buf.len() != 2 {
		t.Fatalf("expected 2 buffered rows, got %d", buf.len())
	}
}

func TestCoalescingBufferSwapIsEmptyWhenNothingBuffered(t *testing.T) {
	buf := newCoalescingBuffer(10)
	rows := buf.swap()
	if len(rows) != 0 {
		t.Fatalf("expected an empty swap result on an empty buffer, got %v", rows)
	}
}
