package jsonsink

import (
	"testing"

	"github.com/datacat-io/ingest/internal/model"
)

func TestAppendCandlesDedupesAcrossCalls(t *testing.T) {
	sink, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rows := []model.Candle{
		{Exchange: "binance", Symbol: "BTCUSDT", BucketTs: 1, Close: 1},
		{Exchange: "binance", Symbol: "BTCUSDT", BucketTs: 2, Close: 2},
	}
	n, err := sink.AppendCandles(model.Interval1m, rows)
	if err != nil {
		t.Fatalf("AppendCandles() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("AppendCandles() wrote %d rows, want 2", n)
	}

	// Re-append the same rows plus one new one: only the new row should land.
	more := append(rows, model.Candle{Exchange: "binance", Symbol: "BTCUSDT", BucketTs: 3, Close: 3})
	n, err = sink.AppendCandles(model.Interval1m, more)
	if err != nil {
		t.Fatalf("AppendCandles() second call error = %v", err)
	}
	if n != 1 {
		t.Fatalf("AppendCandles() second call wrote %d rows, want 1 (only the new key)", n)
	}
}

func TestAppendCandlesSurvivesFreshSinkInstance(t *testing.T) {
	dir := t.TempDir()

	sink1, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rows := []model.Candle{{Exchange: "binance", Symbol: "ETHUSDT", BucketTs: 100}}
	if _, err := sink1.AppendCandles(model.Interval1m, rows); err != nil {
		t.Fatalf("AppendCandles() error = %v", err)
	}

	// A new Sink pointed at the same directory must still see the existing
	// keys on disk (dedup-by-scan, not an in-memory index).
	sink2, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	n, err := sink2.AppendCandles(model.Interval1m, rows)
	if err != nil {
		t.Fatalf("AppendCandles() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("AppendCandles() wrote %d rows, want 0 (already on disk)", n)
	}
}

func TestAppendMetricsDedupesBySymbolAndCreateTime(t *testing.T) {
	sink, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	oi := 100.0
	rows := []model.MetricsRow{{Symbol: "BTCUSDT", CreateTime: 1739000100000, SumOpenInterest: &oi}}
	n, err := sink.AppendMetrics(rows)
	if err != nil {
		t.Fatalf("AppendMetrics() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("AppendMetrics() wrote %d rows, want 1", n)
	}

	n, err = sink.AppendMetrics(rows)
	if err != nil {
		t.Fatalf("AppendMetrics() second call error = %v", err)
	}
	if n != 0 {
		t.Fatalf("AppendMetrics() second call wrote %d rows, want 0 (duplicate key)", n)
	}
}

func TestAppendCandlesEmptyInputIsNoop(t *testing.T) {
	sink, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	n, err := sink.AppendCandles(model.Interval1m, nil)
	if err != nil || n != 0 {
		t.Fatalf("AppendCandles(nil) = (%d, %v), want (0, nil)", n, err)
	}
}
