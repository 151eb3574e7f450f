package binance

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/datacat-io/ingest/internal/apperr"
	"github.com/datacat-io/ingest/internal/model"
)

// ArchiveCache manages the on-disk cache of downloaded archive ZIPs, with a
// 7-day (MAX_CACHE_DAYS) LRU-by-mtime eviction policy (spec.md §6.4).
type ArchiveCache struct {
	root string
}

// NewArchiveCache ensures root/klines and root/metrics exist.
func NewArchiveCache(root string) (*ArchiveCache, error) {
	for _, sub := range []string{"klines", "metrics"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("archive cache: mkdir %s: %w", sub, err)
		}
	}
	return &ArchiveCache{root: root}, nil
}

// Evict removes cached files whose mtime is older than maxAge days.
func (a *ArchiveCache) Evict(maxAgeDays int) error {
	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	for _, sub := range []string{"klines", "metrics"} {
		dir := filepath.Join(a.root, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				_ = os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}
	return nil
}

func (a *ArchiveCache) path(kind, name string) string {
	return filepath.Join(a.root, kind, name)
}

// archiveKind selects the klines or metrics subtree of the archive host
// (spec.md §6.1).
type archiveKind string

const (
	archiveKlines  archiveKind = "klines"
	archiveMetrics archiveKind = "metrics"
)

// DownloadMonthlyKlines fetches monthly/klines/<SYMBOL>/<I>/<SYMBOL>-<I>-<YYYY-MM>.zip
// and returns its parsed candle rows, or (nil, nil) on a 404 (not yet
// published — a normal outcome for archive downloads, spec.md §7).
func (c *Client) DownloadMonthlyKlines(ctx context.Context, cache *ArchiveCache, symbol string, interval model.Interval, month time.Time) ([]model.Candle, error) {
	name := fmt.Sprintf("%s-%s-%s.zip", symbol, interval, month.Format("2006-01"))
	remote := fmt.Sprintf("%s/monthly/klines/%s/%s/%s", ArchiveBaseURL, symbol, interval, name)
	data, err := c.fetchArchive(ctx, cache, archiveKlines, name, remote)
	if err != nil || data == nil {
		return nil, err
	}
	return parseKlineCSVZip(data, symbol, model.SourceZip, interval)
}

// DownloadDailyKlines fetches daily/klines/<SYMBOL>/<I>/<SYMBOL>-<I>-<YYYY-MM-DD>.zip.
func (c *Client) DownloadDailyKlines(ctx context.Context, cache *ArchiveCache, symbol string, interval model.Interval, day time.Time) ([]model.Candle, error) {
	name := fmt.Sprintf("%s-%s-%s.zip", symbol, interval, day.Format("2006-01-02"))
	remote := fmt.Sprintf("%s/daily/klines/%s/%s/%s", ArchiveBaseURL, symbol, interval, name)
	data, err := c.fetchArchive(ctx, cache, archiveKlines, name, remote)
	if err != nil || data == nil {
		return nil, err
	}
	return parseKlineCSVZip(data, symbol, model.SourceZip, interval)
}

// DownloadDailyMetrics fetches metrics/<SYMBOL>-metrics-<YYYY-MM-DD>.zip
// (daily-only, no monthly archive for metrics — spec.md §6.1).
func (c *Client) DownloadDailyMetrics(ctx context.Context, cache *ArchiveCache, symbol string, day time.Time) ([]model.MetricsRow, error) {
	name := fmt.Sprintf("%s-metrics-%s.zip", symbol, day.Format("2006-01-02"))
	remote := fmt.Sprintf("%s/daily/metrics/%s/%s", ArchiveBaseURL, symbol, name)
	data, err := c.fetchArchive(ctx, cache, archiveMetrics, name, remote)
	if err != nil || data == nil {
		return nil, err
	}
	return parseMetricsCSVZip(data, symbol)
}

// fetchArchive serves name from cache if present, otherwise downloads it
// through the rate limiter. A 404 returns (nil, nil) — file not published
// yet. A 429 mid-download is treated as skip-not-retry per spec.md §9 ("the
// archive downloader treats a 429 during ZIP fetch as return False"); the
// ban is still recorded by doWeighted before the error surfaces here.
func (c *Client) fetchArchive(ctx context.Context, cache *ArchiveCache, kind archiveKind, name, remoteURL string) ([]byte, error) {
	cachePath := cache.path(string(kind), name)
	if data, err := os.ReadFile(cachePath); err == nil {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "build archive request", err)
	}
	resp, err := c.doWeighted(ctx, req, 1)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil
		}
		if apperr.KindOf(err) == apperr.KindRateLimited || apperr.KindOf(err) == apperr.KindBanned {
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "read archive body", err)
	}

	tmp := cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err == nil {
		_ = os.Rename(tmp, cachePath)
	}
	return data, nil
}

// parseKlineCSVZip extracts the single CSV member of a klines archive and
// parses it defensively per spec.md §4.6.5: malformed rows are dropped, the
// file as a whole is never failed over a bad row.
func parseKlineCSVZip(data []byte, symbol, source string, interval model.Interval) ([]model.Candle, error) {
	rows, err := readArchiveCSV(data)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 11 {
			continue
		}
		openTime, ok := parseArchiveTimestamp(row[0])
		if !ok {
			continue
		}
		out = append(out, model.Candle{
			Exchange:            "binance",
			Symbol:              symbol,
			BucketTs:            model.FloorToInterval(openTime, interval),
			Open:                parseFloatOrZero(row[1]),
			High:                parseFloatOrZero(row[2]),
			Low:                 parseFloatOrZero(row[3]),
			Close:               parseFloatOrZero(row[4]),
			Volume:              parseFloatOrZero(row[5]),
			QuoteVolume:         parseFloatOrZero(row[7]),
			TradeCount:          int64(parseFloatOrZero(row[8])),
			TakerBuyVolume:      parseFloatOrZero(row[9]),
			TakerBuyQuoteVolume: parseFloatOrZero(row[10]),
			IsClosed:            true,
			Source:              source,
		})
	}
	return out, nil
}

// parseMetricsCSVZip parses a daily metrics archive, reapplying the
// 5-minute floor to each row's timestamp (spec.md §4.6.5).
//
// Archive CSV columns: create_time, symbol, sum_open_interest,
// sum_open_interest_value, count_toptrader_long_short_ratio,
// sum_toptrader_long_short_ratio, count_long_short_ratio,
// sum_taker_long_short_vol_ratio.
func parseMetricsCSVZip(data []byte, symbol string) ([]model.MetricsRow, error) {
	rows, err := readArchiveCSV(data)
	if err != nil {
		return nil, err
	}
	out := make([]model.MetricsRow, 0, len(rows))
	for _, row := range rows {
		if len(row) < 8 {
			continue
		}
		ts, ok := parseArchiveTimestamp(row[0])
		if !ok {
			continue
		}
		sumOI := parseFloatOrZero(row[2])
		sumOIValue := parseFloatOrZero(row[3])
		countTop := parseFloatOrZero(row[4])
		sumTop := parseFloatOrZero(row[5])
		countLS := parseFloatOrZero(row[6])
		sumTaker := parseFloatOrZero(row[7])
		out = append(out, model.MetricsRow{
			Symbol:                       symbol,
			CreateTime:                   model.FloorTo5m(ts),
			SumOpenInterest:              &sumOI,
			SumOpenInterestValue:         &sumOIValue,
			CountToptraderLongShortRatio: &countTop,
			SumToptraderLongShortRatio:   &sumTop,
			CountLongShortRatio:          &countLS,
			SumTakerLongShortVolRatio:    &sumTaker,
			Source:                       model.SourceZip,
			IsClosed:                     true,
		})
	}
	return out, nil
}

func readArchiveCSV(data []byte) ([][]string, error) {
	zr, err := zip.NewReader(byteReaderAt(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindParse, "open archive zip", err)
	}

	var out [][]string
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		rows, _ := csv.NewReader(rc).ReadAll()
		rc.Close()
		for _, row := range rows {
			// Archives sometimes carry a header row; skip anything whose
			// first field doesn't parse as a timestamp.
			if len(row) == 0 {
				continue
			}
			if _, ok := parseArchiveTimestamp(row[0]); !ok {
				continue
			}
			out = append(out, row)
		}
	}
	return out, nil
}

// parseArchiveTimestamp accepts both millisecond-integer and ISO-8601
// timestamp encodings, per spec.md §4.6.5.
func parseArchiveTimestamp(s string) (int64, bool) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}

// byteReaderAt adapts a []byte to io.ReaderAt for zip.NewReader without an
// extra copy.
type byteReaderAtImpl struct {
	data []byte
}

func (b byteReaderAtImpl) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func byteReaderAt(data []byte) io.ReaderAt {
	return byteReaderAtImpl{data: data}
}
