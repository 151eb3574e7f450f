// Package model holds the row shapes and time-grid arithmetic shared by the
// store adapter, the collectors, and the backfiller.
package model

import "time"

// Interval is a candle bucket width, named the way Binance names it.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// Seconds returns the bucket width of i in seconds. Interval1M (calendar
// month) has no fixed width and is not valid here; callers that need
// monthly density must compute it from the calendar.
func (i Interval) Seconds() int64 {
	switch i {
	case Interval1m:
		return 60
	case Interval3m:
		return 3 * 60
	case Interval5m:
		return 5 * 60
	case Interval15m:
		return 15 * 60
	case Interval30m:
		return 30 * 60
	case Interval1h:
		return 3600
	case Interval2h:
		return 2 * 3600
	case Interval4h:
		return 4 * 3600
	case Interval6h:
		return 6 * 3600
	case Interval12h:
		return 12 * 3600
	case Interval1d:
		return 86400
	case Interval1w:
		return 7 * 86400
	default:
		return 0
	}
}

// ExpectedPerDay returns the number of rows expected for one UTC day at
// interval i, per spec.md §4.6.1. Zero for intervals without a fixed
// per-day density.
func (i Interval) ExpectedPerDay() int {
	s := i.Seconds()
	if s <= 0 || s > 86400 {
		return 0
	}
	return int(86400 / s)
}

// Table returns the store table name for candles at interval i.
func (i Interval) Table() string {
	return "candles_" + string(i)
}

// MetricsGridSeconds is the fixed 5-minute grid width for derivatives metrics.
const MetricsGridSeconds = 300

// MetricsExpectedPerDay is the expected row count for one UTC day of
// 5-minute metrics (spec.md §4.6.1): 86400 / 300 = 288.
const MetricsExpectedPerDay = 86400 / MetricsGridSeconds

// GapThreshold is the default coverage threshold below which a
// (symbol, day) is considered gapped (spec.md §4.6.1, §9).
const GapThreshold = 0.95

// FloorToInterval floors a Unix-millisecond timestamp down to the start of
// its interval-I bucket, also in Unix milliseconds.
func FloorToInterval(tsMs int64, i Interval) int64 {
	secs := i.Seconds()
	if secs <= 0 {
		return tsMs
	}
	stepMs := secs * 1000
	return (tsMs / stepMs) * stepMs
}

// FloorTo5m floors a Unix-millisecond timestamp to the 5-minute grid
// (spec.md §3, §8 S6): create_time = floor(raw_ts_ms / 300000) * 300000.
func FloorTo5m(tsMs int64) int64 {
	const stepMs = MetricsGridSeconds * 1000
	return (tsMs / stepMs) * stepMs
}

// UTCDay truncates a Unix-millisecond timestamp to the start of its UTC
// calendar day, returned as a time.Time in UTC.
func UTCDay(tsMs int64) time.Time {
	t := time.UnixMilli(tsMs).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Candle is one persisted row of a candles_<interval> table (spec.md §3).
type Candle struct {
	Exchange             string
	Symbol               string
	BucketTs             int64 // Unix ms, aligned to the interval grid
	Open                 float64
	High                 float64
	Low                  float64
	Close                float64
	Volume               float64
	QuoteVolume          float64
	TradeCount           int64
	TakerBuyVolume       float64
	TakerBuyQuoteVolume  float64
	IsClosed             bool
	Source               string
}

// Source tags, per spec.md §3 "Source provenance".
const (
	SourceWS     = "binance_ws"
	SourceAPI    = "binance_api"
	SourceREST   = "binance_rest"
	SourceZip    = "binance_zip"
	SourceCCXT   = "ccxt"
	SourceGapCCXT = "ccxt_gap"
)

// MetricsRow is one persisted row of the metrics_5m table (spec.md §3).
type MetricsRow struct {
	Symbol                        string
	CreateTime                    int64 // Unix ms, aligned to the 5-minute grid
	SumOpenInterest               *float64
	SumOpenInterestValue          *float64
	CountToptraderLongShortRatio  *float64
	SumToptraderLongShortRatio    *float64
	CountLongShortRatio           *float64
	SumTakerLongShortVolRatio     *float64
	Source                        string
	IsClosed                      bool
}

// GapInfo describes one under-covered (symbol, day) pair (spec.md §4.6.1).
type GapInfo struct {
	Symbol   string
	Day      time.Time // UTC midnight
	Expected int
	Actual   int
}

// Covered reports whether Actual meets the gap threshold against Expected.
func (g GapInfo) Covered() bool {
	if g.Expected == 0 {
		return true
	}
	return float64(g.Actual) >= float64(g.Expected)*GapThreshold
}
