package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datacat-io/ingest/internal/exchange/binance"
	"github.com/datacat-io/ingest/internal/jsonsink"
	"github.com/datacat-io/ingest/internal/metricscollector"
	"github.com/datacat-io/ingest/internal/model"
	"github.com/datacat-io/ingest/internal/store"
	"github.com/datacat-io/ingest/internal/telemetry"
)

// unfillKey identifies one (symbol, utc_day) pair that resisted both
// archive and REST fill attempts (spec.md §4.6.2 step 3, §9 glossary
// "Unfillable").
type unfillKey struct {
	symbol string
	day    time.Time
}

// Backfiller implements spec.md §4.6: gap detection plus the
// archive-then-REST tiered fill for both candles and metrics.
type Backfiller struct {
	client  *binance.Client
	store   *store.Store
	sink    *jsonsink.Sink
	cache   *binance.ArchiveCache
	metrics *telemetry.Counters
	log     zerolog.Logger
	pool    *WorkerPool
	metcol  *metricscollector.Collector

	maxCacheDays int

	mu         sync.Mutex
	unfillable map[unfillKey]struct{}
}

// New builds a Backfiller. sink may be nil; when set, every fill that
// successfully upserts is also appended to the JSONL mirror (spec.md §6.4).
func New(client *binance.Client, st *store.Store, sink *jsonsink.Sink, cache *binance.ArchiveCache, metrics *telemetry.Counters, log zerolog.Logger, workers int, maxCacheDays int, metcol *metricscollector.Collector) *Backfiller {
	return &Backfiller{
		client:       client,
		store:        st,
		sink:         sink,
		cache:        cache,
		metrics:      metrics,
		log:          log,
		pool:         NewWorkerPool(workers, log),
		metcol:       metcol,
		maxCacheDays: maxCacheDays,
		unfillable:   make(map[unfillKey]struct{}),
	}
}

// upsertCandles writes rows to the store and, if a JSONL sink is
// configured, mirrors the same rows there.
func (b *Backfiller) upsertCandles(ctx context.Context, interval model.Interval, rows []model.Candle) (int, error) {
	n, err := b.store.UpsertCandles(ctx, interval, rows, 0)
	if err != nil {
		return n, err
	}
	if b.sink != nil {
		if _, serr := b.sink.AppendCandles(interval, rows); serr != nil {
			b.log.Warn().Err(serr).Msg("json sink append failed")
		}
	}
	return n, nil
}

// upsertMetrics writes rows to the store and, if a JSONL sink is
// configured, mirrors the same rows there.
func (b *Backfiller) upsertMetrics(ctx context.Context, rows []model.MetricsRow) (int, error) {
	n, err := b.store.UpsertMetrics(ctx, rows, 0)
	if err != nil {
		return n, err
	}
	if b.sink != nil {
		if _, serr := b.sink.AppendMetrics(rows); serr != nil {
			b.log.Warn().Err(serr).Msg("json sink append failed")
		}
	}
	return n, nil
}

// ScanAndFill implements wscollector.GapScanner: scans the 1-minute candle
// table (the series the WS collector maintains) over the trailing lookback
// window and fills whatever gaps it finds. It returns the number of
// (symbol, day) pairs that were found gapped at scan time.
func (b *Backfiller) ScanAndFill(ctx context.Context, symbols []string, lookback time.Duration) (int, error) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.SetBackfillDuration(time.Since(start))
		}
	}()

	now := time.Now().UTC()
	windowEnd := model.UTCDay(now.UnixMilli()).AddDate(0, 0, 1)
	windowStart := windowEnd.Add(-lookback)

	gaps, err := ScanCandleGaps(ctx, b.store, model.Interval1m, symbols, windowStart, windowEnd)
	if err != nil {
		return 0, err
	}
	gaps = b.dropUnfillable(gaps)
	total := 0
	for _, g := range gaps {
		total += len(g)
	}
	if total == 0 {
		return 0, nil
	}
	if b.metrics != nil {
		for i := 0; i < total; i++ {
			b.metrics.IncGapsFound()
		}
	}

	if err := b.cache.Evict(b.maxCacheDays); err != nil {
		b.log.Warn().Err(err).Msg("archive cache eviction failed")
	}

	b.pool.Start(ctx)
	var wg sync.WaitGroup
	for symbol, symbolGaps := range gaps {
		symbol, symbolGaps := symbol, symbolGaps
		wg.Add(1)
		b.pool.Submit(func() {
			defer wg.Done()
			b.fillCandleGaps(ctx, symbol, model.Interval1m, symbolGaps, now)
		})
	}
	wg.Wait()
	b.pool.Stop()

	return total, nil
}

// FillMetricsGaps runs the three-tier metrics fill strategy for symbols
// over [windowStart, windowEnd) (spec.md §4.6.3), intended to be driven by
// a separate periodic cycle rather than the WS gap watcher.
func (b *Backfiller) FillMetricsGaps(ctx context.Context, symbols []string, windowStart, windowEnd time.Time) (int, error) {
	gaps, err := ScanMetricsGaps(ctx, b.store, symbols, windowStart, windowEnd)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, g := range gaps {
		total += len(g)
	}
	if total == 0 {
		return 0, nil
	}

	b.pool.Start(ctx)
	var wg sync.WaitGroup
	for symbol, symbolGaps := range gaps {
		symbol, symbolGaps := symbol, symbolGaps
		wg.Add(1)
		b.pool.Submit(func() {
			defer wg.Done()
			b.fillMetricsGapsForSymbol(ctx, symbol, symbolGaps)
		})
	}
	wg.Wait()
	b.pool.Stop()

	return total, nil
}

// fillCandleGaps groups one symbol's gaps by calendar month and runs the
// archive-then-REST tiers of spec.md §4.6.2.
func (b *Backfiller) fillCandleGaps(ctx context.Context, symbol string, interval model.Interval, gaps []model.GapInfo, now time.Time) {
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	byMonth := make(map[time.Time][]time.Time)
	for _, g := range gaps {
		month := time.Date(g.Day.Year(), g.Day.Month(), 1, 0, 0, 0, 0, time.UTC)
		byMonth[month] = append(byMonth[month], g.Day)
	}

	var remaining []time.Time
	for month, dates := range byMonth {
		if month.Equal(currentMonth) {
			// Current month: monthly archive not yet published, daily only.
			remaining = append(remaining, b.fillCandleDailyArchive(ctx, symbol, interval, dates)...)
			continue
		}
		remaining = append(remaining, b.fillCandleMonthlyArchive(ctx, symbol, interval, month, dates)...)
	}

	remaining = b.fillCandleRESTFallback(ctx, symbol, interval, remaining)

	for _, day := range remaining {
		b.markUnfillable(symbol, day)
	}
	if b.metrics != nil && len(gaps)-len(remaining) > 0 {
		for i := 0; i < len(gaps)-len(remaining); i++ {
			b.metrics.IncGapsFilled()
		}
	}
}

func (b *Backfiller) fillCandleMonthlyArchive(ctx context.Context, symbol string, interval model.Interval, month time.Time, dates []time.Time) []time.Time {
	rows, err := b.client.DownloadMonthlyKlines(ctx, b.cache, symbol, interval, month)
	if err != nil {
		b.log.Warn().Err(err).Str("symbol", symbol).Time("month", month).Msg("monthly klines archive fetch failed")
		return b.fillCandleDailyArchive(ctx, symbol, interval, dates)
	}
	if rows == nil {
		// 404: monthly archive not published, fall back to per-day archives.
		return b.fillCandleDailyArchive(ctx, symbol, interval, dates)
	}
	if b.metrics != nil {
		b.metrics.IncZipDownloads()
	}

	covered := filterRowsByDates(rows, dates)
	if _, err := b.upsertCandles(ctx, interval, covered); err != nil {
		b.log.Error().Err(err).Str("symbol", symbol).Msg("monthly archive upsert failed")
		return dates
	}
	if b.metrics != nil {
		b.metrics.AddRowsWritten(len(covered))
	}
	return nil
}

func (b *Backfiller) fillCandleDailyArchive(ctx context.Context, symbol string, interval model.Interval, dates []time.Time) []time.Time {
	var remaining []time.Time
	for _, day := range dates {
		rows, err := b.client.DownloadDailyKlines(ctx, b.cache, symbol, interval, day)
		if err != nil {
			b.log.Warn().Err(err).Str("symbol", symbol).Time("day", day).Msg("daily klines archive fetch failed")
			remaining = append(remaining, day)
			continue
		}
		if rows == nil {
			remaining = append(remaining, day)
			continue
		}
		if b.metrics != nil {
			b.metrics.IncZipDownloads()
		}
		if _, err := b.upsertCandles(ctx, interval, rows); err != nil {
			b.log.Error().Err(err).Str("symbol", symbol).Msg("daily archive upsert failed")
			remaining = append(remaining, day)
			continue
		}
		if b.metrics != nil {
			b.metrics.AddRowsWritten(len(rows))
		}
	}
	return remaining
}

// fillCandleRESTFallback paginates the klines endpoint per remaining gap
// day, stopping at the 100-iteration safety cap FetchKlines already
// enforces (spec.md §4.6.2 step 2). Written rows use source="ccxt_gap".
func (b *Backfiller) fillCandleRESTFallback(ctx context.Context, symbol string, interval model.Interval, dates []time.Time) []time.Time {
	var remaining []time.Time
	for _, day := range dates {
		startMs := day.UnixMilli()
		endMs := day.AddDate(0, 0, 1).UnixMilli() - 1
		rows, err := b.client.FetchKlines(ctx, symbol, interval, startMs, endMs, model.SourceGapCCXT)
		if err != nil || len(rows) == 0 {
			remaining = append(remaining, day)
			continue
		}
		if _, err := b.upsertCandles(ctx, interval, rows); err != nil {
			b.log.Error().Err(err).Str("symbol", symbol).Msg("rest fallback upsert failed")
			remaining = append(remaining, day)
			continue
		}
		if b.metrics != nil {
			b.metrics.AddRowsWritten(len(rows))
		}
	}
	return remaining
}

// fillMetricsGapsForSymbol mirrors fillCandleGaps for the metrics_5m
// table: daily archive, then REST fallback via the metrics collector's
// day-backfill sampling mode (spec.md §4.6.3).
func (b *Backfiller) fillMetricsGapsForSymbol(ctx context.Context, symbol string, gaps []model.GapInfo) {
	var remaining []time.Time
	for _, g := range gaps {
		rows, err := b.client.DownloadDailyMetrics(ctx, b.cache, symbol, g.Day)
		if err != nil || rows == nil {
			remaining = append(remaining, g.Day)
			continue
		}
		if b.metrics != nil {
			b.metrics.IncZipDownloads()
		}
		if _, err := b.upsertMetrics(ctx, rows); err != nil {
			b.log.Error().Err(err).Str("symbol", symbol).Msg("metrics archive upsert failed")
			remaining = append(remaining, g.Day)
			continue
		}
		if b.metrics != nil {
			b.metrics.AddRowsWritten(len(rows))
		}
	}

	for _, day := range remaining {
		startMs := day.UnixMilli()
		endMs := day.AddDate(0, 0, 1).UnixMilli() - 1
		if err := b.metcol.Backfill(ctx, []string{symbol}, startMs, endMs); err != nil {
			b.log.Warn().Err(err).Str("symbol", symbol).Time("day", day).Msg("metrics rest fallback failed")
			b.markUnfillable(symbol, day)
			continue
		}
		if b.metrics != nil {
			b.metrics.IncGapsFilled()
		}
	}
}

func filterRowsByDates(rows []model.Candle, dates []time.Time) []model.Candle {
	allowed := make(map[time.Time]struct{}, len(dates))
	for _, d := range dates {
		allowed[d] = struct{}{}
	}
	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		if _, ok := allowed[model.UTCDay(r.BucketTs)]; ok {
			out = append(out, r)
		}
	}
	return out
}

// dropUnfillable removes gaps already known to resist fill this process
// lifetime (spec.md §4.6.1 "unfillable set ... to skip on subsequent
// cycles").
func (b *Backfiller) dropUnfillable(gaps map[string][]model.GapInfo) map[string][]model.GapInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.unfillable) == 0 {
		return gaps
	}
	out := make(map[string][]model.GapInfo, len(gaps))
	for symbol, symbolGaps := range gaps {
		var kept []model.GapInfo
		for _, g := range symbolGaps {
			if _, skip := b.unfillable[unfillKey{symbol: symbol, day: g.Day}]; !skip {
				kept = append(kept, g)
			}
		}
		if len(kept) > 0 {
			out[symbol] = kept
		}
	}
	return out
}

func (b *Backfiller) markUnfillable(symbol string, day time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unfillable[unfillKey{symbol: symbol, day: day}] = struct{}{}
}

// IsUnfillable reports whether (symbol, day) is known to have resisted both
// archive and REST fill attempts this process lifetime.
func (b *Backfiller) IsUnfillable(symbol string, day time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.unfillable[unfillKey{symbol: symbol, day: day}]
	return ok
}
