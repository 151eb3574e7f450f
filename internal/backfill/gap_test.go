package backfill

import (
	"testing"
	"time"

	"github.com/datacat-io/ingest/internal/model"
	"github.com/datacat-io/ingest/internal/store"
)

func TestGapsFromCoverage(t *testing.T) {
	// spec.md §8 S3: BTCUSDT, 2026-01-01, 1000 actual of 1440 expected
	// (threshold 0.95, min 1368) -> reported gap.
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowStart := day
	windowEnd := day.AddDate(0, 0, 1)

	coverage := store.CoverageWindow{
		{Symbol: "BTCUSDT", Day: day}: 1000,
	}

	gaps := gapsFromCoverage([]string{"BTCUSDT"}, coverage, model.Interval1m.ExpectedPerDay(), windowStart, windowEnd)

	got, ok := gaps["BTCUSDT"]
	if !ok || len(got) != 1 {
		t.Fatalf("expected exactly one gap for BTCUSDT, got %v", gaps)
	}
	g := got[0]
	if g.Expected != 1440 || g.Actual != 1000 {
		t.Fatalf("gap = %+v, want expected=1440 actual=1000", g)
	}
}

func TestGapsFromCoverageMissingDayCountsZero(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := day.AddDate(0, 0, 1)

	gaps := gapsFromCoverage([]string{"ETHUSDT"}, store.CoverageWindow{}, 1440, day, windowEnd)

	got, ok := gaps["ETHUSDT"]
	if !ok || len(got) != 1 || got[0].Actual != 0 {
		t.Fatalf("expected missing (symbol, day) to count as zero actual, got %v", gaps)
	}
}

func TestGapsFromCoverageFullyCoveredReportsNothing(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := day.AddDate(0, 0, 1)
	coverage := store.CoverageWindow{
		{Symbol: "BTCUSDT", Day: day}: 1440,
	}

	gaps := gapsFromCoverage([]string{"BTCUSDT"}, coverage, 1440, day, windowEnd)
	if len(gaps) != 0 {
		t.Fatalf("expected no gaps for fully covered day, got %v", gaps)
	}
}

func TestDropUnfillable(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &Backfiller{unfillable: map[unfillKey]struct{}{
		{symbol: "BTCUSDT", day: day}: {},
	}}

	gaps := map[string][]model.GapInfo{
		"BTCUSDT": {{Symbol: "BTCUSDT", Day: day, Expected: 1440, Actual: 0}},
		"ETHUSDT": {{Symbol: "ETHUSDT", Day: day, Expected: 1440, Actual: 0}},
	}

	filtered := b.dropUnfillable(gaps)
	if _, ok := filtered["BTCUSDT"]; ok {
		t.Fatalf("expected unfillable BTCUSDT gap to be dropped")
	}
	if _, ok := filtered["ETHUSDT"]; !ok {
		t.Fatalf("expected ETHUSDT gap to survive")
	}
}
