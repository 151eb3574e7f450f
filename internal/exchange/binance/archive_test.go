package binance

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/datacat-io/ingest/internal/model"
)

func TestParseArchiveTimestampMillisInteger(t *testing.T) {
	got, ok := parseArchiveTimestamp("1739000100000")
	if !ok || got != 1739000100000 {
		t.Fatalf("parseArchiveTimestamp(ms) = (%d, %v), want (1739000100000, true)", got, ok)
	}
}

func TestParseArchiveTimestampISO8601(t *testing.T) {
	got, ok := parseArchiveTimestamp("2025-02-08T06:15:00Z")
	if !ok {
		t.Fatalf("expected RFC3339 timestamp to parse")
	}
	if got != 1738995300000 {
		t.Fatalf("parseArchiveTimestamp(iso) = %d, want 1738995300000", got)
	}
}

func TestParseArchiveTimestampSpaceSeparated(t *testing.T) {
	got, ok := parseArchiveTimestamp("2025-02-08 06:15:00")
	if !ok {
		t.Fatalf("expected space-separated timestamp to parse")
	}
	if got != 1738995300000 {
		t.Fatalf("parseArchiveTimestamp(space) = %d, want 1738995300000", got)
	}
}

func TestParseArchiveTimestampRejectsGarbage(t *testing.T) {
	if _, ok := parseArchiveTimestamp("not-a-timestamp"); ok {
		t.Fatalf("expected garbage input to be rejected")
	}
}

func buildZipCSV(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip.Create: %v", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip.Close: %v", err)
	}
	return buf.Bytes()
}

func TestParseKlineCSVZip(t *testing.T) {
	body := "open_time,open,high,low,close,volume,close_time,quote_volume,count,taker_buy_volume,taker_buy_quote_volume,ignore\n" +
		"1739000100000,50000.10,50100.00,49900.50,50050.25,12.345,1739000159999,618500.123,245,6.1,305000.5,0\n"
	data := buildZipCSV(t, "BTCUSDT-1m-2025-02-08.csv", body)

	candles, err := parseKlineCSVZip(data, "BTCUSDT", "binance_archive", model.Interval1m)
	if err != nil {
		t.Fatalf("parseKlineCSVZip() error = %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle (header row dropped), got %d", len(candles))
	}
	c := candles[0]
	if c.BucketTs != 1739000100000 || c.Open != 50000.10 || c.TradeCount != 245 {
		t.Fatalf("unexpected candle: %+v", c)
	}
	if !c.IsClosed || c.Source != "binance_archive" {
		t.Fatalf("expected is_closed=true source=binance_archive, got %+v", c)
	}
}

func TestParseKlineCSVZipDropsShortRows(t *testing.T) {
	body := "1739000100000,1,2,3,4,5,1739000159999\n" // only 7 fields, < 11 required
	data := buildZipCSV(t, "BTCUSDT-1m-2025-02-08.csv", body)

	candles, err := parseKlineCSVZip(data, "BTCUSDT", "binance_archive", model.Interval1m)
	if err != nil {
		t.Fatalf("parseKlineCSVZip() error = %v", err)
	}
	if len(candles) != 0 {
		t.Fatalf("expected short rows to be dropped, got %d candles", len(candles))
	}
}

func TestParseKlineCSVZipFloorsToIntervalGrid(t *testing.T) {
	body := "open_time,open,high,low,close,volume,close_time,quote_volume,count,taker_buy_volume,taker_buy_quote_volume,ignore\n" +
		"1739000137000,50000.10,50100.00,49900.50,50050.25,12.345,1739000159999,618500.123,245,6.1,305000.5,0\n"
	data := buildZipCSV(t, "BTCUSDT-5m-2025-02-08.csv", body)

	candles, err := parseKlineCSVZip(data, "BTCUSDT", "binance_archive", model.Interval5m)
	if err != nil {
		t.Fatalf("parseKlineCSVZip() error = %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if want := model.FloorToInterval(1739000137000, model.Interval5m); candles[0].BucketTs != want {
		t.Fatalf("BucketTs = %d, want floored %d", candles[0].BucketTs, want)
	}
}

func TestParseMetricsCSVZip(t *testing.T) {
	body := "create_time,symbol,sum_open_interest,sum_open_interest_value,count_toptrader_long_short_ratio,sum_toptrader_long_short_ratio,count_long_short_ratio,sum_taker_long_short_vol_ratio\n" +
		"1739000100000,BTCUSDT,1000.5,50000000.0,1.2,1.3,1.4,1.5\n"
	data := buildZipCSV(t, "BTCUSDT-metrics-2025-02-08.csv", body)

	rows, err := parseMetricsCSVZip(data, "BTCUSDT")
	if err != nil {
		t.Fatalf("parseMetricsCSVZip() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row (header dropped), got %d", len(rows))
	}
	r := rows[0]
	if r.CreateTime != 1739000100000 || *r.SumOpenInterest != 1000.5 || *r.SumTakerLongShortVolRatio != 1.5 {
		t.Fatalf("unexpected row: %+v", r)
	}
}
