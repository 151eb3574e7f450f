package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/datacat-io/ingest/internal/model"
)

const metricsTable = "metrics_5m"

var metricsColumns = []string{
	"symbol", "create_time",
	"sum_open_interest", "sum_open_interest_value",
	"count_toptrader_long_short_ratio", "sum_toptrader_long_short_ratio",
	"count_long_short_ratio", "sum_taker_long_short_vol_ratio",
	"source", "is_closed",
}

const metricsNaturalKey = "symbol, create_time"

// UpsertMetrics batch-upserts rows into metrics_5m using the same
// staging-table + bulk-copy + merge protocol as UpsertCandles
// (spec.md §4.2).
func (s *Store) UpsertMetrics(ctx context.Context, rows []model.MetricsRow, batchSize int) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	total := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := s.upsertMetricsBatch(ctx, rows[start:end])
		if err != nil {
			return total, fmt.Errorf("store: upsert metrics batch [%d:%d]: %w", start, end, err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) upsertMetricsBatch(ctx context.Context, rows []model.MetricsRow) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tmp := "tmp_" + metricsTable
	createSQL := fmt.Sprintf(
		`CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP`, tmp, metricsTable,
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("create temp table: %w", err)
	}

	copySrc := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{
			r.Symbol, r.CreateTime,
			r.SumOpenInterest, r.SumOpenInterestValue,
			r.CountToptraderLongShortRatio, r.SumToptraderLongShortRatio,
			r.CountLongShortRatio, r.SumTakerLongShortVolRatio,
			r.Source, r.IsClosed,
		}, nil
	})
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, metricsColumns, copySrc); err != nil {
		return 0, fmt.Errorf("copy into temp table: %w", err)
	}

	mergeSQL := buildMergeSQL(metricsTable, tmp, metricsColumns, metricsNaturalKey)
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
