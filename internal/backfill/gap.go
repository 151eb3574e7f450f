// Package backfill implements the Backfiller of spec.md §4.6: gap
// detection against expected row density, then archive-then-REST tiered
// fill, tracking an unfillable set across cycles.
package backfill

import (
	"context"
	"time"

	"github.com/datacat-io/ingest/internal/model"
	"github.com/datacat-io/ingest/internal/store"
)

// ScanCandleGaps issues one coverage query per spec.md §4.6.1 and returns
// every (symbol, day) pair whose coverage falls below model.GapThreshold.
func ScanCandleGaps(ctx context.Context, st *store.Store, interval model.Interval, symbols []string, windowStart, windowEnd time.Time) (map[string][]model.GapInfo, error) {
	expected := interval.ExpectedPerDay()
	coverage, err := st.QueryCoverage(ctx, interval.Table(), "bucket_ts", symbols, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return gapsFromCoverage(symbols, coverage, expected, windowStart, windowEnd), nil
}

// ScanMetricsGaps is the metrics-table equivalent, fixed to the 5-minute
// grid's expected density of 288 rows/day.
func ScanMetricsGaps(ctx context.Context, st *store.Store, symbols []string, windowStart, windowEnd time.Time) (map[string][]model.GapInfo, error) {
	coverage, err := st.QueryCoverage(ctx, "metrics_5m", "create_time", symbols, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return gapsFromCoverage(symbols, coverage, model.MetricsExpectedPerDay, windowStart, windowEnd), nil
}

// gapsFromCoverage walks every (symbol, day) in [windowStart, windowEnd)
// and reports days whose observed count fails the threshold; missing pairs
// implicitly count as 0 (spec.md §4.6.1).
func gapsFromCoverage(symbols []string, coverage store.CoverageWindow, expected int, windowStart, windowEnd time.Time) map[string][]model.GapInfo {
	out := make(map[string][]model.GapInfo)
	for _, symbol := range symbols {
		for day := windowStart; day.Before(windowEnd); day = day.AddDate(0, 0, 1) {
			key := store.CoverageKey{Symbol: symbol, Day: day}
			actual := coverage[key]
			g := model.GapInfo{Symbol: symbol, Day: day, Expected: expected, Actual: actual}
			if !g.Covered() {
				out[symbol] = append(out[symbol], g)
			}
		}
	}
	return out
}
