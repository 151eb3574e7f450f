package binance

import (
	"encoding/json"
	"testing"
)

func TestParseKlineRows(t *testing.T) {
	raw := []byte(`[
		[1739000100000, "50000.10", "50100.00", "49900.50", "50050.25", "12.345",
		 1739000159999, "618500.123", 245, "6.1", "305000.5", "0"]
	]`)
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	candles := parseKlineRows("BTCUSDT", rows, "binance_rest")
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if c.BucketTs != 1739000100000 {
		t.Fatalf("BucketTs = %d, want 1739000100000", c.BucketTs)
	}
	if c.Open != 50000.10 || c.Close != 50050.25 {
		t.Fatalf("open/close = %v/%v, want 50000.10/50050.25", c.Open, c.Close)
	}
	if c.TradeCount != 245 {
		t.Fatalf("TradeCount = %d, want 245", c.TradeCount)
	}
	if !c.IsClosed || c.Source != "binance_rest" || c.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected row: %+v", c)
	}
}

func TestParseKlineRowsDropsMalformedRow(t *testing.T) {
	raw := []byte(`[
		[1739000100000, "1", "2", "3", "4", "5", 1739000159999, "6", 7, "8", "9", "0"],
		["not-a-timestamp", "1", "2", "3", "4", "5", 0, "6", 7, "8", "9", "0"],
		[1739000160000]
	]`)
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	candles := parseKlineRows("BTCUSDT", rows, "binance_rest")
	if len(candles) != 1 {
		t.Fatalf("expected malformed/short rows to be dropped, got %d candles", len(candles))
	}
}

func TestJSONFloatAcceptsStringOrNumber(t *testing.T) {
	if got := jsonFloat(json.RawMessage(`"1.5"`)); got != 1.5 {
		t.Fatalf("jsonFloat(string) = %v, want 1.5", got)
	}
	if got := jsonFloat(json.RawMessage(`2.5`)); got != 2.5 {
		t.Fatalf("jsonFloat(number) = %v, want 2.5", got)
	}
}
