// Package jsonsink is the optional append-only JSONL mirror of spec.md
// §6.4: one line per row, deduplicated by natural key across restarts.
// Grounded on original_source's pipeline/json_sink.py append_jsonl, which
// does the same read-existing-keys-then-append dance; this port keeps the
// file-per-table layout and the on-disk dedup-by-scan approach rather than
// an in-memory index, so the sink stays correct across process restarts
// without a separate state file.
package jsonsink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/datacat-io/ingest/internal/model"
)

// Sink writes candles_<I>.jsonl and metrics_5m.jsonl under dir.
type Sink struct {
	dir string
	mu  sync.Mutex
}

// New builds a Sink rooted at dir, creating it if necessary.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonsink: mkdir %s: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

func (s *Sink) path(name string) string {
	return filepath.Join(s.dir, name+".jsonl")
}

type candleKey struct {
	exchange string
	symbol   string
	ts       int64
}

type metricsKey struct {
	symbol string
	ts     int64
}

// AppendCandles writes rows to candles_<interval>.jsonl, skipping any whose
// (exchange, symbol, bucket_ts) key is already present in the file.
func (s *Sink) AppendCandles(interval model.Interval, rows []model.Candle) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path("candles_" + string(interval))
	existing, err := loadCandleKeys(path)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("jsonsink: open %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	written := 0
	for _, r := range rows {
		key := candleKey{exchange: r.Exchange, symbol: r.Symbol, ts: r.BucketTs}
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		line, err := json.Marshal(r)
		if err != nil {
			continue
		}
		if _, err := w.Write(line); err != nil {
			return written, fmt.Errorf("jsonsink: write %s: %w", path, err)
		}
		if _, err := w.WriteString("\n"); err != nil {
			return written, fmt.Errorf("jsonsink: write %s: %w", path, err)
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return written, fmt.Errorf("jsonsink: flush %s: %w", path, err)
	}
	return written, nil
}

// AppendMetrics writes rows to metrics_5m.jsonl, deduplicated by
// (symbol, create_time).
func (s *Sink) AppendMetrics(rows []model.MetricsRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path("metrics_5m")
	existing, err := loadMetricsKeys(path)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("jsonsink: open %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	written := 0
	for _, r := range rows {
		key := metricsKey{symbol: r.Symbol, ts: r.CreateTime}
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		line, err := json.Marshal(r)
		if err != nil {
			continue
		}
		if _, err := w.Write(line); err != nil {
			return written, fmt.Errorf("jsonsink: write %s: %w", path, err)
		}
		if _, err := w.WriteString("\n"); err != nil {
			return written, fmt.Errorf("jsonsink: write %s: %w", path, err)
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return written, fmt.Errorf("jsonsink: flush %s: %w", path, err)
	}
	return written, nil
}

func loadCandleKeys(path string) (map[candleKey]struct{}, error) {
	keys := make(map[candleKey]struct{})
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return keys, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonsink: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var row model.Candle
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			continue
		}
		keys[candleKey{exchange: row.Exchange, symbol: row.Symbol, ts: row.BucketTs}] = struct{}{}
	}
	return keys, nil
}

func loadMetricsKeys(path string) (map[metricsKey]struct{}, error) {
	keys := make(map[metricsKey]struct{})
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return keys, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonsink: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var row model.MetricsRow
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			continue
		}
		keys[metricsKey{symbol: row.Symbol, ts: row.CreateTime}] = struct{}{}
	}
	return keys, nil
}
