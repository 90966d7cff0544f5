package model

import "time"

// Project is one leaderboard source directory and the timeframes found in it.
type Project struct {
	Name       string      `json:"name"`
	Provider   Provider    `json:"provider"`
	Dir        string      `json:"-"`
	Timeframes []Timeframe `json:"timeframes"`
}

// Timeframe maps a normalized timeframe tag to its snapshot directory.
type Timeframe struct {
	Name string `json:"name"`
	Dir  string `json:"-"`
}

// TimeframeNames returns the timeframe tags of p in order.
func (p Project) TimeframeNames() []string {
	names := make([]string, len(p.Timeframes))
	for i, tf := range p.Timeframes {
		names[i] = tf.Name
	}
	return names
}

// GlobalIdentity is one identity merged across every provider.
type GlobalIdentity struct {
	Identity       string   `json:"identity"`
	DisplayName    string   `json:"display_name"`
	ImageURL       string   `json:"image_url"`
	Score          *float64 `json:"score,omitempty"`
	Followers      *int64   `json:"followers,omitempty"`
	SmartFollowers *int64   `json:"smart_followers,omitempty"`
}

// GlobalRanking is an identity's latest standing in one project timeframe.
// Rankings that dropped out of the latest rollup keep zero metrics and no
// ranks.
type GlobalRanking struct {
	Identity        string   `json:"identity"`
	Project         string   `json:"project"`
	Provider        Provider `json:"provider"`
	Timeframe       string   `json:"timeframe"`
	Rank            *int     `json:"rank,omitempty"`
	CompositeRank   *int     `json:"composite_rank,omitempty"`
	Metric          float64  `json:"metric"`
	CompositeMetric *float64 `json:"composite_metric,omitempty"`
	PositionChange  *int     `json:"position_change,omitempty"`
}

// IngestedEvent announces a committed ingestion batch.
type IngestedEvent struct {
	BatchID   string    `json:"batch_id"`
	Project   string    `json:"project"`
	Provider  Provider  `json:"provider"`
	Timeframe string    `json:"timeframe"`
	Watermark string    `json:"watermark"`
	Files     int       `json:"files"`
	Rows      int       `json:"rows"`
	At        time.Time `json:"at"`
}
