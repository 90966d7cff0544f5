// Package differ compares two point-in-time leaderboard slices.
package differ

import (
	"cmp"
	"slices"

	model "github.com/okian/mindshare/internal/domain/model"
)

// Defaults used when no option overrides them.
const (
	DefaultThreshold    = 500
	DefaultSentinelRank = 9999
)

// Differ joins two slices on identity and computes rank and metric deltas.
// A Differ is immutable after New and safe for concurrent use.
type Differ struct {
	thresholds       map[model.Provider]int
	defaultThreshold int
	sentinel         int
}

// Option configures a Differ.
type Option func(*Differ)

// WithThreshold sets the plausibility bound for one provider.
func WithThreshold(p model.Provider, n int) Option {
	return func(d *Differ) {
		if n > 0 {
			d.thresholds[p] = n
		}
	}
}

// WithDefaultThreshold sets the bound for providers without their own.
func WithDefaultThreshold(n int) Option {
	return func(d *Differ) {
		if n > 0 {
			d.defaultThreshold = n
		}
	}
}

// WithSentinel sets the rank standing in for "unranked".
func WithSentinel(n int) Option {
	return func(d *Differ) {
		if n > 0 {
			d.sentinel = n
		}
	}
}

// New creates a Differ.
func New(opts ...Option) *Differ {
	d := &Differ{
		thresholds:       make(map[model.Provider]int),
		defaultThreshold: DefaultThreshold,
		sentinel:         DefaultSentinelRank,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the plausibility bound applied to provider p.
func (d *Differ) Threshold(p model.Provider) int {
	if n, ok := d.thresholds[p]; ok {
		return n
	}
	return d.defaultThreshold
}

// Sentinel returns the rank used for entities without one.
func (d *Differ) Sentinel() int { return d.sentinel }

// Diff performs a full outer join of prev and curr on identity. Missing ranks
// become the sentinel and missing metrics become zero. A rank move larger
// than the provider threshold zeroes both deltas, and a sentinel on either
// side zeroes the metric delta. The result is ordered by rank change
// descending, then current rank, then identity.
func (d *Differ) Diff(p model.Provider, prev, curr []model.Row, metric model.Metric) []model.Comparison {
	threshold := d.Threshold(p)

	prevBy := index(prev)
	currBy := index(curr)

	out := make([]model.Comparison, 0, len(currBy)+len(prevBy))
	for id, c := range currBy {
		out = append(out, d.compare(id, prevBy[id], c, metric, threshold))
	}
	for id, pr := range prevBy {
		if _, ok := currBy[id]; ok {
			continue
		}
		out = append(out, d.compare(id, pr, nil, metric, threshold))
	}

	slices.SortFunc(out, func(a, b model.Comparison) int {
		if c := cmp.Compare(b.RankChange, a.RankChange); c != 0 {
			return c
		}
		if c := cmp.Compare(a.CurrRank, b.CurrRank); c != 0 {
			return c
		}
		return cmp.Compare(a.Identity, b.Identity)
	})
	return out
}

func (d *Differ) compare(id string, prev, curr *model.Row, metric model.Metric, threshold int) model.Comparison {
	c := model.Comparison{
		Identity: id,
		PrevRank: d.sentinel,
		CurrRank: d.sentinel,
	}
	if prev != nil {
		c.DisplayName, c.ImageURL = prev.DisplayName, prev.ImageURL
		if r, ok := prev.RankFor(metric); ok {
			c.PrevRank = r
		}
		c.PrevMetric, _ = prev.MetricFor(metric)
	}
	if curr != nil {
		if curr.DisplayName != "" {
			c.DisplayName = curr.DisplayName
		}
		if curr.ImageURL != "" {
			c.ImageURL = curr.ImageURL
		}
		if r, ok := curr.RankFor(metric); ok {
			c.CurrRank = r
		}
		c.CurrMetric, _ = curr.MetricFor(metric)
	}

	c.RankChange = c.PrevRank - c.CurrRank
	c.MetricChange = c.CurrMetric - c.PrevMetric

	switch {
	case prev == nil:
		c.Transition = model.TransitionNew
	case curr == nil:
		c.Transition = model.TransitionOut
	case c.RankChange != 0 || c.MetricChange != 0:
		c.Transition = model.TransitionChanged
	default:
		c.Transition = model.TransitionUnchanged
	}

	if abs(c.RankChange) > threshold {
		c.RankChange = 0
		c.MetricChange = 0
		c.Suppressed = true
	}
	if c.PrevRank == d.sentinel || c.CurrRank == d.sentinel {
		c.MetricChange = 0
	}
	return c
}

// SortByCurrentRank orders comparisons by current rank, then identity.
func SortByCurrentRank(cs []model.Comparison) {
	slices.SortFunc(cs, func(a, b model.Comparison) int {
		if c := cmp.Compare(a.CurrRank, b.CurrRank); c != 0 {
			return c
		}
		return cmp.Compare(a.Identity, b.Identity)
	})
}

func index(rows []model.Row) map[string]*model.Row {
	m := make(map[string]*model.Row, len(rows))
	for i := range rows {
		m[rows[i].Identity] = &rows[i]
	}
	return m
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
