package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/datacat-io/ingest/internal/model"
)

// candleColumns is the full column projection for a candles_<I> row, in
// the order written to the temp table and read back in the merge. Column
// projection is data-driven off this slice, not off the caller's rows,
// per spec.md §9 ("keep the column-projection logic fully data-driven").
var candleColumns = []string{
	"exchange", "symbol", "bucket_ts",
	"open", "high", "low", "close", "volume", "quote_volume",
	"trade_count", "taker_buy_volume", "taker_buy_quote_volume",
	"is_closed", "source",
}

const candleNaturalKey = "exchange, symbol, bucket_ts"

// UpsertCandles batch-upserts rows into candles_<interval>, following the
// staging-table + bulk-copy + merge protocol of spec.md §4.2. It returns
// the number of rows affected (falling back to len(rows) when the driver
// reports 0 for an updates-only batch).
func (s *Store) UpsertCandles(ctx context.Context, interval model.Interval, rows []model.Candle, batchSize int) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	table := interval.Table()

	total := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := s.upsertCandleBatch(ctx, table, rows[start:end])
		if err != nil {
			return total, fmt.Errorf("store: upsert %s batch [%d:%d]: %w", table, start, end, err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) upsertCandleBatch(ctx context.Context, table string, rows []model.Candle) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tmp := "tmp_" + table
	createSQL := fmt.Sprintf(
		`CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP`, tmp, table,
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("create temp table: %w", err)
	}

	copySrc := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{
			r.Exchange, r.Symbol, r.BucketTs,
			r.Open, r.High, r.Low, r.Close, r.Volume, r.QuoteVolume,
			r.TradeCount, r.TakerBuyVolume, r.TakerBuyQuoteVolume,
			r.IsClosed, r.Source,
		}, nil
	})
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, candleColumns, copySrc); err != nil {
		return 0, fmt.Errorf("copy into temp table: %w", err)
	}

	mergeSQL := buildMergeSQL(table, tmp, candleColumns, candleNaturalKey)
	tag, err := tx.Exec(ctx, mergeSQL)
	if err != nil {
		return 0, fmt.Errorf("merge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	affected := int(tag.RowsAffected())
	if affected == 0 {
		affected = len(rows)
	}
	return affected, nil
}

// buildMergeSQL composes the INSERT ... SELECT ... ON CONFLICT DO UPDATE
// statement spec.md §4.2 step 3 describes, projecting every non-key column
// from the column list.
func buildMergeSQL(table, tmp string, columns []string, naturalKey string) string {
	nonKey := nonKeyColumns(columns, naturalKey)

	setClauses := ""
	for i, c := range nonKey {
		if i > 0 {
			setClauses += ", "
		}
		setClauses += fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	setClauses += ", updated_at = now()"

	colList := ""
	for i, c := range columns {
		if i > 0 {
			colList += ", "
		}
		colList += c
	}

	return fmt.Sprintf(
		`INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s`,
		table, colList, colList, tmp, naturalKey, setClauses,
	)
}

func nonKeyColumns(columns []string, naturalKey string) []string {
	keySet := map[string]bool{}
	for _, k := range splitCSV(naturalKey) {
		keySet[k] = true
	}
	var out []string
	for _, c := range columns {
		if !keySet[c] {
			out = append(out, c)
		}
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			field := s[start:i]
			// trim spaces
			for len(field) > 0 && field[0] == ' ' {
				field = field[1:]
			}
			for len(field) > 0 && field[len(field)-1] == ' ' {
				field = field[:len(field)-1]
			}
			if field != "" {
				out = append(out, field)
			}
			start = i + 1
		}
	}
	return out
}
