package store

import (
	"context"
	"fmt"
	"time"
)

// QueryCoverage issues the single grouped-count query spec.md §4.6.1
// describes: "SELECT symbol, date(ts), count(*) GROUP BY symbol, date(ts)
// WHERE symbol IN (…) AND ts IN window". Missing (symbol, day) pairs are
// simply absent from the returned map; callers treat that as zero.
func (s *Store) QueryCoverage(ctx context.Context, table string, tsColumn string, symbols []string, windowStart, windowEnd time.Time) (CoverageWindow, error) {
	if len(symbols) == 0 {
		return CoverageWindow{}, nil
	}

	query := fmt.Sprintf(
		`SELECT symbol, date_trunc('day', to_timestamp(%s / 1000.0)) AS day, count(*)
		 FROM %s
		 WHERE symbol = ANY($1) AND %s >= $2 AND %s < $3
		 GROUP BY symbol, day`,
		tsColumn, table, tsColumn, tsColumn,
	)

	rows, err := s.pool.Query(ctx, query, symbols, windowStart.UnixMilli(), windowEnd.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: query coverage on %s: %w", table, err)
	}
	defer rows.Close()

	out := CoverageWindow{}
	for rows.Next() {
		var symbol string
		var day time.Time
		var count int
		if err := rows.Scan(&symbol, &day, &count); err != nil {
			return nil, fmt.Errorf("store: scan coverage row: %w", err)
		}
		out[CoverageKey{Symbol: symbol, Day: day.UTC()}] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: coverage rows: %w", err)
	}
	return out, nil
}
