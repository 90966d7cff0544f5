// Package repository persists leaderboard rows and the global rollup.
package repository

import (
	"context"

	model "github.com/okian/mindshare/internal/domain/model"
)

// Batch is the set of rows from consecutive snapshot files of one timeframe,
// committed together with the watermark they advance to.
type Batch struct {
	Timeframe string
	Rows      []model.Row
	// Watermark is the newest snapshot filename covered by Rows. Empty leaves
	// the watermark untouched.
	Watermark string
}

// CommitResult describes a committed batch.
type CommitResult struct {
	Rows      int
	Watermark string
	Advanced  bool
}

// Store is one project's ingestion store. A single writer commits batches
// while any number of readers query it.
type Store interface {
	// Commit upserts the batch rows and advances the timeframe watermark in
	// one transaction. Failures wrap ErrStoreWrite and leave both unchanged.
	Commit(ctx context.Context, b Batch) (CommitResult, error)
	// Upsert writes rows keyed by identity, timeframe and timestamp; the last
	// write wins.
	Upsert(ctx context.Context, rows []model.Row) error
	// EnsureColumns promotes extra keys to their own nullable columns.
	EnsureColumns(ctx context.Context, keys []string) ([]string, error)
	// Columns returns the promoted extra keys and their columns.
	Columns(ctx context.Context) (map[string]string, error)

	Watermark(ctx context.Context, timeframe string) (string, error)
	Watermarks(ctx context.Context) (map[string]string, error)

	Timeframes(ctx context.Context) ([]string, error)
	AvailableTimestamps(ctx context.Context, timeframe string) ([]string, error)
	LatestTimestamp(ctx context.Context, timeframe string) (string, error)
	SliceAt(ctx context.Context, timestamp, timeframe string) ([]model.Row, error)
	Latest(ctx context.Context, timeframe string) ([]model.Row, error)
	History(ctx context.Context, identity, timeframe string, maxPoints int) ([]model.Row, error)
	LatestIdentities(ctx context.Context, timeframe string) ([]string, error)
	Trend(ctx context.Context, timeframe string, metric model.Metric) ([]model.TrendPoint, error)
	Count(ctx context.Context) (int, error)

	Close() error
}
