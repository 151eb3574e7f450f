package binance

import "testing"

func TestParseWSKlineDropsUnclosedCandle(t *testing.T) {
	raw := []byte(`{"e":"kline","s":"BTCUSDT","k":{"t":1739000100000,"i":"1m","o":"1","h":"2","l":"0.5","c":"1.5","v":"10","q":"15","n":5,"V":"4","Q":"6","x":false}}`)
	_, ok := parseWSKline(raw)
	if ok {
		t.Fatalf("expected an unclosed candle (x=false) to be dropped")
	}
}

func TestParseWSKlineClosedCandle(t *testing.T) {
	raw := []byte(`{"e":"kline","s":"btcusdt","k":{"t":1739000100000,"i":"1m","o":"1.1","h":"2.2","l":"0.5","c":"1.5","v":"10","q":"15","n":5,"V":"4","Q":"6","x":true}}`)
	c, ok := parseWSKline(raw)
	if !ok {
		t.Fatalf("expected a closed candle to parse")
	}
	if c.Symbol != "BTCUSDT" {
		t.Fatalf("Symbol = %q, want normalized BTCUSDT", c.Symbol)
	}
	if c.BucketTs != 1739000100000 || c.Open != 1.1 || c.TradeCount != 5 {
		t.Fatalf("unexpected candle: %+v", c)
	}
	if c.Source != "binance_ws" || !c.IsClosed {
		t.Fatalf("expected source=binance_ws is_closed=true, got %+v", c)
	}
}

func TestParseWSKlineCombinedStreamEnvelope(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{"t":1,"i":"1m","o":"1","h":"1","l":"1","c":"1","v":"1","q":"1","n":1,"V":"1","Q":"1","x":true}}}`)
	c, ok := parseWSKline(raw)
	if !ok {
		t.Fatalf("expected combined-stream envelope to parse")
	}
	if c.Symbol != "BTCUSDT" {
		t.Fatalf("Symbol = %q, want BTCUSDT", c.Symbol)
	}
}

func TestParseWSKlineIgnoresNonKlineEvent(t *testing.T) {
	raw := []byte(`{"e":"aggTrade","s":"BTCUSDT"}`)
	if _, ok := parseWSKline(raw); ok {
		t.Fatalf("expected non-kline event to be ignored")
	}
}
