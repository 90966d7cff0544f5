package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	"github.com/okian/mindshare/internal/adapters/repository"
	"github.com/okian/mindshare/internal/domain/differ"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/series"
	"github.com/okian/mindshare/pkg/cache"
)

// diffLookback picks the default previous timestamp of a diff: the ninth
// newest, or the oldest when there are fewer.
const diffLookback = 9

// GlobalReader serves rollup lookups.
type GlobalReader interface {
	Search(ctx context.Context, q string, limit int) ([]model.GlobalIdentity, error)
	Identity(ctx context.Context, id string) (*repository.IdentityView, error)
}

// ProjectSummary is one project in the overview.
type ProjectSummary struct {
	Name       string             `json:"name"`
	Provider   model.Provider     `json:"provider"`
	Timeframes []TimeframeSummary `json:"timeframes"`
}

// TimeframeSummary is one timeframe in the overview.
type TimeframeSummary struct {
	Name      string `json:"name"`
	Latest    string `json:"latest,omitempty"`
	Watermark string `json:"watermark,omitempty"`
}

// DiffResult is a comparison between two timestamps.
type DiffResult struct {
	Project     string             `json:"project"`
	Timeframe   string             `json:"timeframe"`
	Metric      model.Metric       `json:"metric"`
	From        string             `json:"t1"`
	To          string             `json:"t2"`
	Threshold   int                `json:"threshold"`
	Comparisons []model.Comparison `json:"comparisons"`
}

// IdentitySeries is one identity's history.
type IdentitySeries struct {
	Identity string      `json:"identity"`
	Points   []model.Row `json:"points"`
}

// Query answers read requests against the project stores and the rollup.
type Query struct {
	registry  *Registry
	global    GlobalReader
	differ    *differ.Differ
	maxPoints int
	overview  *cache.Cache[[]ProjectSummary]
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// WithDiffer sets the differ used by Diff.
func WithDiffer(d *differ.Differ) QueryOption {
	return func(q *Query) {
		if d != nil {
			q.differ = d
		}
	}
}

// WithMaxPoints caps history series.
func WithMaxPoints(n int) QueryOption {
	return func(q *Query) {
		if n > 1 {
			q.maxPoints = n
		}
	}
}

// WithOverviewTTL sets how long the projects overview is cached.
func WithOverviewTTL(ttl time.Duration) QueryOption {
	return func(q *Query) {
		q.overview = cache.New(q.loadOverview, cache.WithTTL[[]ProjectSummary](ttl))
	}
}

// NewQuery creates a Query.
func NewQuery(r *Registry, global GlobalReader, opts ...QueryOption) *Query {
	q := &Query{
		registry:  r,
		global:    global,
		differ:    differ.New(),
		maxPoints: series.DefaultMaxPoints,
	}
	q.overview = cache.New(q.loadOverview, cache.WithTTL[[]ProjectSummary](30*time.Second))
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Projects returns the projects overview.
func (q *Query) Projects(ctx context.Context) ([]ProjectSummary, error) {
	return q.overview.Get(ctx)
}

// HandleIngested drops the cached overview.
func (q *Query) HandleIngested(context.Context, queue.Event) error {
	q.overview.Invalidate()
	return nil
}

func (q *Query) loadOverview(ctx context.Context) ([]ProjectSummary, error) {
	projects := q.registry.Projects()
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		store, ok := q.registry.Store(p.Name)
		if !ok {
			continue
		}
		wms, err := store.Watermarks(ctx)
		if err != nil {
			return nil, err
		}
		tfs, err := store.Timeframes(ctx)
		if err != nil {
			return nil, err
		}
		for _, tf := range p.TimeframeNames() {
			if !slices.Contains(tfs, tf) {
				tfs = append(tfs, tf)
			}
		}
		slices.Sort(tfs)
		sum := ProjectSummary{Name: p.Name, Provider: p.Provider}
		for _, tf := range tfs {
			latest, err := store.LatestTimestamp(ctx, tf)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			sum.Timeframes = append(sum.Timeframes, TimeframeSummary{
				Name:      tf,
				Latest:    latest,
				Watermark: wms[tf],
			})
		}
		out = append(out, sum)
	}
	return out, nil
}

func (q *Query) store(project string) (model.Project, repository.Store, error) {
	return q.registry.lookup(project)
}

// Timeframes lists the timeframes with stored rows.
func (q *Query) Timeframes(ctx context.Context, project string) ([]string, error) {
	_, st, err := q.store(project)
	if err != nil {
		return nil, err
	}
	return st.Timeframes(ctx)
}

// AvailableTimestamps lists a timeframe's timestamps, oldest first.
func (q *Query) AvailableTimestamps(ctx context.Context, project, timeframe string) ([]string, error) {
	_, st, err := q.store(project)
	if err != nil {
		return nil, err
	}
	return st.AvailableTimestamps(ctx, timeframe)
}

// SliceAt returns the rows of one timestamp ordered by rank. An empty
// timestamp selects the latest.
func (q *Query) SliceAt(ctx context.Context, project, timeframe, timestamp string) ([]model.Row, error) {
	_, st, err := q.store(project)
	if err != nil {
		return nil, err
	}
	if timestamp == "" {
		return q.latest(ctx, st, timeframe)
	}
	return st.SliceAt(ctx, timestamp, timeframe)
}

func (q *Query) latest(ctx context.Context, st repository.Store, timeframe string) ([]model.Row, error) {
	rows, err := st.Latest(ctx, timeframe)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoData, timeframe)
	}
	return rows, err
}

// History returns one identity's rows over time, downsampled to points.
func (q *Query) History(ctx context.Context, project, timeframe, identity string, points int) ([]model.Row, error) {
	_, st, err := q.store(project)
	if err != nil {
		return nil, err
	}
	return st.History(ctx, identity, timeframe, q.points(points))
}

func (q *Query) points(n int) int {
	if n <= 1 || n > q.maxPoints {
		return q.maxPoints
	}
	return n
}

// LatestIdentities lists the identities at the latest timestamp.
func (q *Query) LatestIdentities(ctx context.Context, project, timeframe string) ([]string, error) {
	_, st, err := q.store(project)
	if err != nil {
		return nil, err
	}
	return st.LatestIdentities(ctx, timeframe)
}

// Diff compares two timestamps. Empty t2 selects the newest timestamp and
// empty t1 the ninth newest, or the oldest when there are fewer.
func (q *Query) Diff(ctx context.Context, project, timeframe, t1, t2 string, metric model.Metric) (DiffResult, error) {
	proj, st, err := q.store(project)
	if err != nil {
		return DiffResult{}, err
	}
	ts, err := st.AvailableTimestamps(ctx, timeframe)
	if err != nil {
		return DiffResult{}, err
	}
	if len(ts) == 0 {
		return DiffResult{}, fmt.Errorf("%w: %s/%s", ErrNoData, project, timeframe)
	}
	if t2 == "" {
		t2 = ts[len(ts)-1]
	}
	if t1 == "" {
		t1 = ts[max(0, len(ts)-diffLookback)]
	}
	for _, t := range []string{t1, t2} {
		if !slices.Contains(ts, t) {
			return DiffResult{}, fmt.Errorf("%w: unknown timestamp %q", ErrInvalidArgument, t)
		}
	}

	prev, err := st.SliceAt(ctx, t1, timeframe)
	if err != nil {
		return DiffResult{}, err
	}
	curr, err := st.SliceAt(ctx, t2, timeframe)
	if err != nil {
		return DiffResult{}, err
	}
	return DiffResult{
		Project:     project,
		Timeframe:   timeframe,
		Metric:      metric,
		From:        t1,
		To:          t2,
		Threshold:   q.differ.Threshold(proj.Provider),
		Comparisons: q.differ.Diff(proj.Provider, prev, curr, metric),
	}, nil
}

// TopN returns the n rows with the highest metric at the latest timestamp.
func (q *Query) TopN(ctx context.Context, project, timeframe string, metric model.Metric, n int) ([]model.Row, error) {
	_, st, err := q.store(project)
	if err != nil {
		return nil, err
	}
	rows, err := q.latest(ctx, st, timeframe)
	if err != nil {
		return nil, err
	}
	return series.TopN(rows, metric, n), nil
}

// Trend returns per-timestamp aggregates of a timeframe.
func (q *Query) Trend(ctx context.Context, project, timeframe string, metric model.Metric) ([]model.TrendPoint, error) {
	_, st, err := q.store(project)
	if err != nil {
		return nil, err
	}
	return st.Trend(ctx, timeframe, metric)
}

// Compare returns the history of several identities side by side.
func (q *Query) Compare(ctx context.Context, project, timeframe string, identities []string) ([]IdentitySeries, error) {
	_, st, err := q.store(project)
	if err != nil {
		return nil, err
	}
	out := make([]IdentitySeries, 0, len(identities))
	for _, id := range identities {
		rows, err := st.History(ctx, id, timeframe, q.maxPoints)
		if err != nil {
			return nil, err
		}
		out = append(out, IdentitySeries{Identity: id, Points: rows})
	}
	return out, nil
}

// Search finds rollup identities by identity or display name.
func (q *Query) Search(ctx context.Context, text string, limit int) ([]model.GlobalIdentity, error) {
	if q.global == nil {
		return nil, ErrNotStarted
	}
	return q.global.Search(ctx, text, limit)
}

// Identity returns one rollup identity with its rankings.
func (q *Query) Identity(ctx context.Context, id string) (*repository.IdentityView, error) {
	if q.global == nil {
		return nil, ErrNotStarted
	}
	return q.global.Identity(ctx, id)
}
