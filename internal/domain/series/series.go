// Package series shapes stored rows into chart-sized time series.
package series

import (
	"cmp"
	"slices"

	model "github.com/okian/mindshare/internal/domain/model"
)

// DefaultMaxPoints bounds history payloads.
const DefaultMaxPoints = 500

// Downsample keeps at most maxPoints items picked at evenly spaced indices
// over items. The first and last items are always kept. Inputs at or under
// the bound are returned unchanged.
func Downsample[T any](items []T, maxPoints int) []T {
	n := len(items)
	if maxPoints <= 0 || n <= maxPoints {
		return items
	}
	if maxPoints == 1 {
		return []T{items[n-1]}
	}
	out := make([]T, maxPoints)
	step := float64(n-1) / float64(maxPoints-1)
	for i := range out {
		out[i] = items[int(float64(i)*step)]
	}
	out[maxPoints-1] = items[n-1]
	return out
}

// Trend aggregates rows per timestamp: the mean metric, the mean follower
// counts over rows that carry them, and the best rank. Points are ordered by
// timestamp.
func Trend(rows []model.Row, metric model.Metric) []model.TrendPoint {
	type acc struct {
		n, nf, ns   int
		sum, sf, ss float64
		best        int
	}
	byTS := make(map[string]*acc)
	for i := range rows {
		r := &rows[i]
		a, ok := byTS[r.Timestamp]
		if !ok {
			a = &acc{}
			byTS[r.Timestamp] = a
		}
		a.n++
		if v, ok := r.MetricFor(metric); ok {
			a.sum += v
		}
		if r.Followers != nil {
			a.nf++
			a.sf += float64(*r.Followers)
		}
		if r.SmartFollowers != nil {
			a.ns++
			a.ss += float64(*r.SmartFollowers)
		}
		if rank, ok := r.RankFor(metric); ok && (a.best == 0 || rank < a.best) {
			a.best = rank
		}
	}

	out := make([]model.TrendPoint, 0, len(byTS))
	for ts, a := range byTS {
		p := model.TrendPoint{
			Timestamp:  ts,
			Entries:    a.n,
			MeanMetric: a.sum / float64(a.n),
			BestRank:   a.best,
		}
		if a.nf > 0 {
			p.MeanFollowers = a.sf / float64(a.nf)
		}
		if a.ns > 0 {
			p.MeanSmartFollowers = a.ss / float64(a.ns)
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b model.TrendPoint) int { return cmp.Compare(a.Timestamp, b.Timestamp) })
	return out
}

// TopN returns the n rows with the highest metric, ties broken by rank.
// rows is not modified.
func TopN(rows []model.Row, metric model.Metric, n int) []model.Row {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b model.Row) int {
		va, _ := a.MetricFor(metric)
		vb, _ := b.MetricFor(metric)
		if c := cmp.Compare(vb, va); c != 0 {
			return c
		}
		return cmp.Compare(a.Rank, b.Rank)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
