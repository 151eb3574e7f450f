// Package wscollector implements the WebSocket Candle Collector of
// spec.md §4.5: a coalescing buffer over the live 1-minute kline stream,
// flushed on size or a timer, plus a co-resident gap watcher. The
// swap-under-lock buffer pattern is grounded on yitech-candles'
// aggregator.go coalescing design, generalized from its multi-exchange
// candle fan-in to this single-stream collector.
package wscollector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datacat-io/ingest/internal/exchange/binance"
	"github.com/datacat-io/ingest/internal/jsonsink"
	"github.com/datacat-io/ingest/internal/model"
	"github.com/datacat-io/ingest/internal/store"
	"github.com/datacat-io/ingest/internal/telemetry"
)

// GapScanner is the subset of the backfiller's behaviour the gap watcher
// needs, kept as an interface so this package doesn't import backfill
// directly — mirroring the teacher's Adapter-interface-at-the-seam style.
type GapScanner interface {
	ScanAndFill(ctx context.Context, symbols []string, lookback time.Duration) (gapsFound int, err error)
}

// Options configures buffer sizing and the gap watcher (spec.md §6.3).
type Options struct {
	MaxBuffer       int
	FlushWindow     time.Duration
	GapInterval     time.Duration
	InitialLookback time.Duration
	MaxLookback     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxBuffer <= 0 {
		o.MaxBuffer = 1000
	}
	if o.FlushWindow <= 0 {
		o.FlushWindow = 3 * time.Second
	}
	if o.GapInterval <= 0 {
		o.GapInterval = 60 * time.Second
	}
	if o.InitialLookback <= 0 {
		o.InitialLookback = 48 * time.Hour
	}
	if o.MaxLookback <= 0 {
		o.MaxLookback = 7 * 24 * time.Hour
	}
	return o
}

// Collector runs the coalescing buffer and the gap watcher for the
// lifetime of a process.
type Collector struct {
	store   *store.Store
	sink    *jsonsink.Sink
	metrics *telemetry.Counters
	log     zerolog.Logger
	opts    Options
	buf     *coalescingBuffer

	lookback time.Duration
	gaps     GapScanner
}

// New builds a Collector. sink may be nil; when set, every flushed batch is
// also appended to the JSONL mirror (spec.md §6.4).
func New(st *store.Store, sink *jsonsink.Sink, metrics *telemetry.Counters, log zerolog.Logger, gaps GapScanner, opts Options) *Collector {
	opts = opts.withDefaults()
	return &Collector{
		store:    st,
		sink:     sink,
		metrics:  metrics,
		log:      log,
		opts:     opts,
		buf:      newCoalescingBuffer(opts.MaxBuffer),
		lookback: opts.InitialLookback,
		gaps:     gaps,
	}
}

// Run subscribes to symbols' 1-minute kline stream, coalesces incoming
// candles, and runs the gap watcher until ctx is cancelled. It performs a
// final synchronous flush before returning (spec.md §4.5 "Reconnection").
func (c *Collector) Run(ctx context.Context, symbols []string) {
	var wg sync.WaitGroup

	flushTrigger := make(chan struct{}, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		binance.SubscribeKlines(ctx, symbols, model.Interval1m, c.log, func(cand model.Candle) {
			if c.buf.add(cand) {
				select {
				case flushTrigger <- struct{}{}:
				default:
				}
			}
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.flushLoop(ctx, flushTrigger)
	}()

	if c.gaps != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.gapWatcher(ctx, symbols)
		}()
	}

	wg.Wait()

	// Final synchronous flush on teardown.
	c.flush(context.Background())
}

// flushLoop fires on whichever comes first: a size-triggered signal, or
// FLUSH_WINDOW elapsed since the last candle was added (spec.md §4.5).
func (c *Collector) flushLoop(ctx context.Context, trigger <-chan struct{}) {
	ticker := time.NewTicker(c.opts.FlushWindow / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			c.flush(ctx)
		case <-ticker.C:
			if c.buf.len() > 0 && c.buf.sinceLastAdd() >= c.opts.FlushWindow {
				c.flush(ctx)
			}
		}
	}
}

func (c *Collector) flush(ctx context.Context) {
	rows := c.buf.swap()
	if len(rows) == 0 {
		return
	}
	n, err := c.store.UpsertCandles(ctx, model.Interval1m, rows, 0)
	if err != nil {
		c.log.Error().Err(err).Int("rows", len(rows)).Msg("candle flush failed")
		return
	}
	if c.metrics != nil {
		c.metrics.AddRowsWritten(n)
	}
	if c.sink != nil {
		if _, serr := c.sink.AppendCandles(model.Interval1m, rows); serr != nil {
			c.log.Warn().Err(serr).Msg("json sink append failed")
		}
	}
	c.log.Debug().Int("rows", n).Msg("candle buffer flushed")
}

// gapWatcher runs the backfiller on a lookback window that shrinks by a day
// when a cycle finds nothing and grows by a day when it does, bounded by
// [1 day, MaxLookback] (spec.md §4.5).
func (c *Collector) gapWatcher(ctx context.Context, symbols []string) {
	ticker := time.NewTicker(c.opts.GapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gapsFound, err := c.gaps.ScanAndFill(ctx, symbols, c.lookback)
			if err != nil {
				c.log.Warn().Err(err).Msg("gap watcher cycle failed")
				continue
			}
			c.lookback = adjustLookback(c.lookback, gapsFound, c.opts.MaxLookback)
		}
	}
}

// adjustLookback shrinks the gap-watcher window by a day when a cycle found
// nothing and grows it by a day when it did, bounded by [1 day, maxLookback]
// (spec.md §4.5).
func adjustLookback(current time.Duration, gapsFound int, maxLookback time.Duration) time.Duration {
	const day = 24 * time.Hour
	if gapsFound == 0 {
		current -= day
		if current < day {
			current = day
		}
		return current
	}
	current += day
	if current > maxLookback {
		current = maxLookback
	}
	return current
}
