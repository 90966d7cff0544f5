package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/series"
	"github.com/okian/mindshare/pkg/logger"
)

const watermarkPrefix = "latest_file_"

const rowColumns = `identity, display_name, image_url, rank, composite_rank, metric,
	composite_metric, followers, smart_followers, score, position_change,
	timeframe, timestamp, extra`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a Store backed by one sqlite database in WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts *options
	log  logger.Logger

	colMu     sync.RWMutex
	columns   map[string]string // extra key -> column
	owners    map[string]string // column -> extra key
	rejected  map[string]struct{}
	insertSQL string
	insertCol []string // extra keys in insertSQL order
}

// Open opens or creates the project store at path and applies migrations.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	db, err := openDB(ctx, path, projectMigrations, o)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{
		db:       db,
		path:     path,
		opts:     o,
		log:      o.logger,
		columns:  make(map[string]string),
		owners:   make(map[string]string),
		rejected: make(map[string]struct{}),
	}
	if err := s.loadColumns(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Commit writes b in one transaction. The watermark only moves forward.
func (s *SQLiteStore) Commit(ctx context.Context, b Batch) (CommitResult, error) {
	res := CommitResult{Rows: len(b.Rows)}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("%w: begin: %w", ErrStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertTx(ctx, tx, b.Rows); err != nil {
		return res, err
	}

	current, err := watermarkTx(ctx, tx, b.Timeframe)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	res.Watermark = current
	if b.Watermark != "" && model.SnapshotAfter(b.Watermark, current) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`,
			watermarkPrefix+b.Timeframe, b.Watermark); err != nil {
			return res, fmt.Errorf("%w: watermark: %w", ErrStoreWrite, err)
		}
		res.Watermark = b.Watermark
		res.Advanced = true
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, fmt.Errorf("%w: commit: %w", ErrStoreWrite, err)
	}
	return res, nil
}

// Upsert writes rows in one transaction without touching watermarks.
func (s *SQLiteStore) Upsert(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertTx(ctx, tx, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStoreWrite, err)
	}
	return nil
}

func (s *SQLiteStore) upsertTx(ctx context.Context, tx *sql.Tx, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	query, keys := s.insertStatement()
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", ErrStoreWrite, err)
	}
	defer stmt.Close()

	args := make([]any, 0, 14+len(keys))
	for i := range rows {
		r := &rows[i]
		extra, err := encodeExtra(r.Extra)
		if err != nil {
			return fmt.Errorf("%w: row %s: %w", ErrStoreWrite, r.Identity, err)
		}
		args = append(args[:0],
			r.Identity, r.DisplayName, r.ImageURL,
			nullRank(r.Rank), r.CompositeRank, r.Metric,
			r.CompositeMetric, r.Followers, r.SmartFollowers, r.Score, r.PositionChange,
			r.Timeframe, r.Timestamp, extra,
		)
		for _, k := range keys {
			if v, ok := r.Extra[k]; ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("%w: insert %s: %w", ErrStoreWrite, r.Identity, err)
		}
	}
	return nil
}

// insertStatement returns the upsert for the current column set and the extra
// keys bound after the typed columns.
func (s *SQLiteStore) insertStatement() (string, []string) {
	s.colMu.RLock()
	if s.insertSQL != "" {
		q, k := s.insertSQL, s.insertCol
		s.colMu.RUnlock()
		return q, k
	}
	s.colMu.RUnlock()

	s.colMu.Lock()
	defer s.colMu.Unlock()
	keys := make([]string, 0, len(s.columns))
	for k := range s.columns {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	cols := strings.Fields(strings.ReplaceAll(rowColumns, ",", " "))
	for _, k := range keys {
		cols = append(cols, fmt.Sprintf("%q", s.columns[k]))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	s.insertSQL = fmt.Sprintf("INSERT OR REPLACE INTO leaderboard (%s) VALUES (%s)",
		strings.Join(cols, ", "), marks)
	s.insertCol = keys
	return s.insertSQL, s.insertCol
}

// Watermark returns the newest ingested filename for timeframe, or "".
func (s *SQLiteStore) Watermark(ctx context.Context, timeframe string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, watermarkPrefix+timeframe).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("watermark %s: %w", timeframe, err)
	}
	return v, nil
}

func watermarkTx(ctx context.Context, tx *sql.Tx, timeframe string) (string, error) {
	var v string
	err := tx.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, watermarkPrefix+timeframe).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// Watermarks returns every timeframe watermark.
func (s *SQLiteStore) Watermarks(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM metadata WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(watermarkPrefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("watermarks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("watermarks: %w", err)
		}
		out[strings.TrimPrefix(k, watermarkPrefix)] = v
	}
	return out, rows.Err()
}

// Timeframes returns the timeframes holding rows.
func (s *SQLiteStore) Timeframes(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT timeframe FROM leaderboard ORDER BY timeframe`)
}

// AvailableTimestamps returns the timestamps of timeframe in ascending order.
func (s *SQLiteStore) AvailableTimestamps(ctx context.Context, timeframe string) ([]string, error) {
	return s.strings(ctx,
		`SELECT DISTINCT timestamp FROM leaderboard WHERE timeframe = ? ORDER BY timestamp`, timeframe)
}

// LatestTimestamp returns the newest timestamp of timeframe or ErrNotFound.
func (s *SQLiteStore) LatestTimestamp(ctx context.Context, timeframe string) (string, error) {
	var ts sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM leaderboard WHERE timeframe = ?`, timeframe).Scan(&ts); err != nil {
		return "", fmt.Errorf("latest timestamp %s: %w", timeframe, err)
	}
	if !ts.Valid {
		return "", fmt.Errorf("%w: timeframe %s", ErrNotFound, timeframe)
	}
	return ts.String, nil
}

// SliceAt returns the rows of timeframe at timestamp ordered by rank.
// Unranked rows come last.
func (s *SQLiteStore) SliceAt(ctx context.Context, timestamp, timeframe string) ([]model.Row, error) {
	return s.rows(ctx, `SELECT `+rowColumns+` FROM leaderboard
		WHERE timestamp = ? AND timeframe = ?
		ORDER BY rank IS NULL, rank, identity`, timestamp, timeframe)
}

// Latest returns the slice at the newest timestamp of timeframe.
func (s *SQLiteStore) Latest(ctx context.Context, timeframe string) ([]model.Row, error) {
	ts, err := s.LatestTimestamp(ctx, timeframe)
	if err != nil {
		return nil, err
	}
	return s.SliceAt(ctx, ts, timeframe)
}

// History returns identity's rows in timeframe by timestamp, downsampled to
// maxPoints. A non-positive maxPoints uses the store default.
func (s *SQLiteStore) History(ctx context.Context, identity, timeframe string, maxPoints int) ([]model.Row, error) {
	if maxPoints <= 0 {
		maxPoints = s.opts.historyPoints
	}
	rows, err := s.rows(ctx, `SELECT `+rowColumns+` FROM leaderboard
		WHERE identity = ? AND timeframe = ?
		ORDER BY timestamp`, identity, timeframe)
	if err != nil {
		return nil, err
	}
	return series.Downsample(rows, maxPoints), nil
}

// LatestIdentities returns the identities in the newest slice of timeframe,
// ordered by rank.
func (s *SQLiteStore) LatestIdentities(ctx context.Context, timeframe string) ([]string, error) {
	ts, err := s.LatestTimestamp(ctx, timeframe)
	if err != nil {
		return nil, err
	}
	return s.strings(ctx, `SELECT identity FROM leaderboard
		WHERE timestamp = ? AND timeframe = ?
		ORDER BY rank IS NULL, rank, identity`, ts, timeframe)
}

// Trend aggregates every timestamp of timeframe.
func (s *SQLiteStore) Trend(ctx context.Context, timeframe string, metric model.Metric) ([]model.TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, rank, composite_rank, metric,
		composite_metric, followers, smart_followers
		FROM leaderboard WHERE timeframe = ?`, timeframe)
	if err != nil {
		return nil, fmt.Errorf("trend %s: %w", timeframe, err)
	}
	defer rows.Close()

	var all []model.Row
	for rows.Next() {
		var (
			r    model.Row
			rank sql.NullInt64
		)
		if err := rows.Scan(&r.Timestamp, &rank, &r.CompositeRank, &r.Metric,
			&r.CompositeMetric, &r.Followers, &r.SmartFollowers); err != nil {
			return nil, fmt.Errorf("trend %s: %w", timeframe, err)
		}
		r.Rank = int(rank.Int64)
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trend %s: %w", timeframe, err)
	}
	return series.Trend(all, metric), nil
}

// Count returns the number of stored rows.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) rows(ctx context.Context, query string, args ...any) ([]model.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var (
			r     model.Row
			rank  sql.NullInt64
			extra sql.NullString
		)
		if err := rows.Scan(
			&r.Identity, &r.DisplayName, &r.ImageURL,
			&rank, &r.CompositeRank, &r.Metric,
			&r.CompositeMetric, &r.Followers, &r.SmartFollowers, &r.Score, &r.PositionChange,
			&r.Timeframe, &r.Timestamp, &extra,
		); err != nil {
			return nil, err
		}
		r.Rank = int(rank.Int64)
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &r.Extra); err != nil {
				s.log.Warn(ctx, "undecodable extra payload",
					logger.String("identity", r.Identity),
					logger.String("timestamp", r.Timestamp),
					logger.Error(err))
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeExtra(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullRank(r int) any {
	if r <= 0 {
		return nil
	}
	return r
}
