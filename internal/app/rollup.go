package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/mindshare/internal/adapters/repository"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const defaultReadConcurrency = 4

// RollupStore receives published rollups.
type RollupStore interface {
	// Publish replaces the rollup. Rankings of the projects in keep are
	// carried over from the previous rollup unchanged.
	Publish(ctx context.Context, identities []model.GlobalIdentity, rankings []model.GlobalRanking, keep ...string) (repository.PublishStats, error)
}

// RollupResult describes one published rollup.
type RollupResult struct {
	Stats    repository.PublishStats `json:"stats"`
	Projects int                     `json:"projects"`
	Failed   []string                `json:"failed,omitempty"`
	Took     time.Duration           `json:"took"`
}

// Aggregator merges the latest slice of every project timeframe into the
// global rollup.
type Aggregator struct {
	registry    *Registry
	store       RollupStore
	order       []model.Provider
	concurrency int
	log         logger.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithProviderOrder sets the order providers are merged in. Later providers
// win display fields.
func WithProviderOrder(order ...model.Provider) AggregatorOption {
	return func(a *Aggregator) {
		if len(order) > 0 {
			a.order = order
		}
	}
}

// WithReadConcurrency bounds concurrent project reads.
func WithReadConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithAggregatorLogger sets the aggregator logger.
func WithAggregatorLogger(l logger.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAggregator creates an aggregator publishing to store.
func NewAggregator(r *Registry, store RollupStore, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		registry:    r,
		store:       store,
		order:       model.Providers,
		concurrency: defaultReadConcurrency,
		log:         logger.Get().Named("rollup"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type projectSlices struct {
	project model.Project
	// rows holds the latest slice of every timeframe.
	rows [][]model.Row
}

// Rollup reads every project and publishes the merged result. Projects that
// cannot be read keep their previous rankings and are reported in a
// *RollupPartialError; the rollup is still published.
func (a *Aggregator) Rollup(ctx context.Context) (RollupResult, error) {
	start := time.Now()
	projects := a.registry.Projects()
	res := RollupResult{Projects: len(projects)}

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		slices   = make([]projectSlices, len(projects))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, p := range projects {
		g.Go(func() error {
			rows, err := a.read(gctx, p.Name)
			if err != nil {
				a.log.Warn(gctx, "project left out of rollup",
					logger.String("project", p.Name), logger.Error(err))
				metrics.RecordRollupPartialFailure(p.Name)
				mu.Lock()
				failures[p.Name] = err
				mu.Unlock()
				return nil
			}
			slices[i] = projectSlices{project: p, rows: rows}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	var unread []string
	for name := range failures {
		unread = append(unread, name)
	}
	sort.Strings(unread)

	identities, rankings := merge(slices, a.order)
	stats, err := a.store.Publish(ctx, identities, rankings, unread...)
	if err != nil {
		return res, err
	}
	res.Stats = stats
	res.Took = time.Since(start)
	metrics.UpdateRollupSize(stats.Identities, stats.Rankings, stats.Stale)

	if len(failures) > 0 {
		perr := &RollupPartialError{Failures: failures}
		res.Failed = perr.Projects()
		return res, perr
	}
	return res, nil
}

func (a *Aggregator) read(ctx context.Context, project string) ([][]model.Row, error) {
	store, ok := a.registry.Store(project)
	if !ok {
		return nil, ErrUnknownProject
	}
	tfs, err := store.Timeframes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]model.Row, 0, len(tfs))
	for _, tf := range tfs {
		rows, err := store.Latest(ctx, tf)
		if err != nil {
			return nil, err
		}
		out = append(out, rows)
	}
	return out, nil
}

type identityAcc struct {
	model.GlobalIdentity
	scoreAt string
}

// merge combines the slices provider by provider in order. Display fields
// take the last non-empty value, follower counts the largest known one and
// score the one from the newest timestamp.
func merge(slices []projectSlices, order []model.Provider) ([]model.GlobalIdentity, []model.GlobalRanking) {
	rank := make(map[model.Provider]int, len(order))
	for i, p := range order {
		rank[p] = i
	}
	pos := func(p model.Provider) int {
		if i, ok := rank[p]; ok {
			return i
		}
		return len(order)
	}
	sorted := make([]projectSlices, 0, len(slices))
	for _, s := range slices {
		if s.project.Name != "" {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := pos(sorted[i].project.Provider), pos(sorted[j].project.Provider)
		if pi != pj {
			return pi < pj
		}
		return sorted[i].project.Name < sorted[j].project.Name
	})

	accs := make(map[string]*identityAcc)
	var rankings []model.GlobalRanking
	for _, s := range sorted {
		for _, rows := range s.rows {
			for i := range rows {
				r := &rows[i]
				mergeIdentity(accs, r)
				rankings = append(rankings, ranking(s.project, r))
			}
		}
	}

	identities := make([]model.GlobalIdentity, 0, len(accs))
	for _, acc := range accs {
		identities = append(identities, acc.GlobalIdentity)
	}
	sort.Slice(identities, func(i, j int) bool { return identities[i].Identity < identities[j].Identity })
	sort.Slice(rankings, func(i, j int) bool {
		a, b := rankings[i], rankings[j]
		if a.Identity != b.Identity {
			return a.Identity < b.Identity
		}
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		return a.Timeframe < b.Timeframe
	})
	return identities, rankings
}

func mergeIdentity(accs map[string]*identityAcc, r *model.Row) {
	acc, ok := accs[r.Identity]
	if !ok {
		acc = &identityAcc{GlobalIdentity: model.GlobalIdentity{Identity: r.Identity}}
		accs[r.Identity] = acc
	}
	if r.DisplayName != "" {
		acc.DisplayName = r.DisplayName
	}
	if r.ImageURL != "" {
		acc.ImageURL = r.ImageURL
	}
	acc.Followers = maxPtr(acc.Followers, r.Followers)
	acc.SmartFollowers = maxPtr(acc.SmartFollowers, r.SmartFollowers)
	if r.Score != nil && (acc.Score == nil || r.Timestamp >= acc.scoreAt) {
		acc.Score = model.Ptr(*r.Score)
		acc.scoreAt = r.Timestamp
	}
}

func ranking(p model.Project, r *model.Row) model.GlobalRanking {
	g := model.GlobalRanking{
		Identity:        r.Identity,
		Project:         p.Name,
		Provider:        p.Provider,
		Timeframe:       r.Timeframe,
		CompositeRank:   r.CompositeRank,
		Metric:          r.Metric,
		CompositeMetric: r.CompositeMetric,
		PositionChange:  r.PositionChange,
	}
	if r.Rank > 0 {
		g.Rank = model.Ptr(r.Rank)
	}
	return g
}

func maxPtr(cur, v *int64) *int64 {
	switch {
	case v == nil:
		return cur
	case cur == nil || *v > *cur:
		return model.Ptr(*v)
	default:
		return cur
	}
}
