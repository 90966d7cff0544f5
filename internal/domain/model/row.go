// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// Provider identifies the upstream ranking service a snapshot came from.
type Provider string

// Known providers.
const (
	ProviderCookie    Provider = "cookie"
	ProviderWallchain Provider = "wallchain"
	ProviderKaito     Provider = "kaito"
)

// Providers lists the known providers in their default merge order.
var Providers = []Provider{ProviderCookie, ProviderKaito, ProviderWallchain}

// ParseProvider maps a configured provider name to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderCookie, "vooi":
		return ProviderCookie, nil
	case ProviderWallchain:
		return ProviderWallchain, nil
	case ProviderKaito:
		return ProviderKaito, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// Metric selects which rank/metric pair a comparison or ranking reads.
type Metric string

// Metrics.
const (
	// MetricMindshare reads Rank and Metric.
	MetricMindshare Metric = "mindshare"
	// MetricComposite reads CompositeRank and CompositeMetric.
	MetricComposite Metric = "composite"
)

// ParseMetric accepts the metric names used by the dashboards, including the
// upstream field names.
func ParseMetric(s string) (Metric, error) {
	switch strings.TrimSpace(s) {
	case "", string(MetricMindshare), "snapsPercent", "mindsharePercentage":
		return MetricMindshare, nil
	case string(MetricComposite), "cSnapsPercent", "relativeMindshare":
		return MetricComposite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Row is one identity's standing for one project timeframe at one timestamp.
// (Identity, Timeframe, Timestamp) is unique within a project's store.
type Row struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	ImageURL    string `json:"image_url"`

	// Rank is 1 for the top entry; 0 when the provider did not send one.
	Rank          int  `json:"rank"`
	CompositeRank *int `json:"composite_rank,omitempty"`

	Metric          float64  `json:"metric"`
	CompositeMetric *float64 `json:"composite_metric,omitempty"`

	Followers      *int64   `json:"followers,omitempty"`
	SmartFollowers *int64   `json:"smart_followers,omitempty"`
	Score          *float64 `json:"score,omitempty"`
	PositionChange *int     `json:"position_change,omitempty"`

	Timeframe string `json:"timeframe"`
	// Timestamp is formatted as TimestampLayout.
	Timestamp string `json:"timestamp"`

	// Extra holds provider fields without a typed column.
	Extra map[string]string `json:"extra,omitempty"`
}

// RankFor returns the rank the metric reads and whether it is present.
func (r *Row) RankFor(m Metric) (int, bool) {
	if m == MetricComposite {
		if r.CompositeRank == nil || *r.CompositeRank <= 0 {
			return 0, false
		}
		return *r.CompositeRank, true
	}
	if r.Rank <= 0 {
		return 0, false
	}
	return r.Rank, true
}

// MetricFor returns the value the metric reads and whether it is present.
func (r *Row) MetricFor(m Metric) (float64, bool) {
	if m == MetricComposite {
		if r.CompositeMetric == nil {
			return 0, false
		}
		return *r.CompositeMetric, true
	}
	return r.Metric, true
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
