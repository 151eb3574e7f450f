// Package store is the time-series store adapter of spec.md §4.2: a pooled
// Postgres/TimescaleDB connection exposing batched idempotent upserts for
// candles and metrics via a staging-table + merge protocol, plus coverage
// queries for gap scanning.
//
// The upsert protocol (temp table → bulk copy → INSERT ... ON CONFLICT
// DO UPDATE) is grounded on original_source's psycopg_pool-based
// TimescaleStorage.upsert_candles; jackc/pgx/v5 is the Go driver that
// exposes the COPY-based bulk-copy primitive the Python implementation gets
// from psycopg's executemany/COPY, see DESIGN.md for why this replaces the
// pack's only SQL dependency (gorm+mysql).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing from spec.md §4.2: "min 2, max 10, idle-timeout 300 s,
// lifetime-timeout 3600 s".
const (
	poolMinConns        = 2
	poolMaxConns        = 10
	poolIdleTimeout     = 300 * time.Second
	poolLifetimeTimeout = 3600 * time.Second
	defaultBatchSize    = 2000
)

// Store wraps a pooled connection to the backing time-series database.
type Store struct {
	pool *pgxpool.Pool
}

// Open builds a Store with the pool parameters spec.md §4.2 mandates.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	cfg.MinConns = poolMinConns
	cfg.MaxConns = poolMaxConns
	cfg.MaxConnIdleTime = poolIdleTimeout
	cfg.MaxConnLifetime = poolLifetimeTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// CoverageWindow is the (symbol, day) → count map produced by a coverage
// scan (spec.md §4.2 query_coverage, §4.6.1).
type CoverageWindow map[CoverageKey]int

// CoverageKey identifies one (symbol, UTC day) pair.
type CoverageKey struct {
	Symbol string
	Day    time.Time // UTC midnight
}
