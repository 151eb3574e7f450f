package store

import "testing"

func TestSplitCSV(t *testing.T) {
	got := splitCSV("exchange, symbol,   bucket_ts")
	want := []string{"exchange", "symbol", "bucket_ts"}
	if len(got) != len(want) {
		t.Fatalf("splitCSV() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitCSV()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNonKeyColumns(t *testing.T) {
	cols := []string{"exchange", "symbol", "bucket_ts", "open", "close"}
	got := nonKeyColumns(cols, "exchange, symbol, bucket_ts")
	want := []string{"open", "close"}
	if len(got) != len(want) {
		t.Fatalf("nonKeyColumns() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("nonKeyColumns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildMergeSQL(t *testing.T) {
	cols := []string{"exchange", "symbol", "bucket_ts", "open", "close"}
	sql := buildMergeSQL("candles_1m", "tmp_candles_1m", cols, "exchange, symbol, bucket_ts")

	for _, want := range []string{
		"INSERT INTO candles_1m",
		"FROM tmp_candles_1m",
		"ON CONFLICT (exchange, symbol, bucket_ts)",
		"open = EXCLUDED.open",
		"close = EXCLUDED.close",
		"updated_at = now()",
	} {
		if !contains(sql, want) {
			t.Fatalf("buildMergeSQL() missing %q in: %s", want, sql)
		}
	}
	if contains(sql, "exchange = EXCLUDED.exchange") {
		t.Fatalf("buildMergeSQL() must not assign natural-key columns in SET: %s", sql)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
