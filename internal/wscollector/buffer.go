package wscollector

import (
	"sync"
	"time"

	"github.com/datacat-io/ingest/internal/model"
)

// coalescingBuffer is the mutex-guarded swap-and-flush buffer spec.md §4.5
// and §9 describe: a flush fires on size OR a time window, whichever comes
// first, and the critical section during swap holds only the pointer
// exchange, never the write I/O.
type coalescingBuffer struct {
	mu        sync.Mutex
	rows      []model.Candle
	maxBuffer int
	lastAdd   time.Time
}

func newCoalescingBuffer(maxBuffer int) *coalescingBuffer {
	return &coalescingBuffer{
		rows:      make([]model.Candle, 0, maxBuffer),
		maxBuffer: maxBuffer,
		lastAdd:   time.Now(),
	}
}

// add appends c and reports whether the buffer has reached MAX_BUFFER,
// in which case the caller should flush immediately (size-triggered path).
func (b *coalescingBuffer) add(c model.Candle) (sizeTriggered bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, c)
	b.lastAdd = time.Now()
	return len(b.rows) >= b.maxBuffer
}

// swap exchanges the current buffer for an empty one and returns whatever
// had accumulated, under a lock held only for the pointer swap itself.
func (b *coalescingBuffer) swap() []model.Candle {
	b.mu.Lock()
	out := b.rows
	b.rows = make([]model.Candle, 0, b.maxBuffer)
	b.mu.Unlock()
	return out
}

func (b *coalescingBuffer) sinceLastAdd() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Since(b.lastAdd)
}

func (b *coalescingBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}
