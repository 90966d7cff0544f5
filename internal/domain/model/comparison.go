package model

// Transition classifies how an identity moved between two slices.
type Transition string

// Transitions.
const (
	TransitionNew       Transition = "NEW"
	TransitionOut       Transition = "OUT"
	TransitionChanged   Transition = "CHANGED"
	TransitionUnchanged Transition = "UNCHANGED"
)

// Comparison is one identity's delta between two timestamps of a timeframe.
// It is derived on demand and never stored.
type Comparison struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	ImageURL    string `json:"image_url"`

	PrevRank   int `json:"prev_rank"`
	CurrRank   int `json:"curr_rank"`
	RankChange int `json:"rank_change"`

	PrevMetric   float64 `json:"prev_metric"`
	CurrMetric   float64 `json:"curr_metric"`
	MetricChange float64 `json:"metric_change"`

	Transition Transition `json:"transition"`
	// Suppressed is set when the plausibility bound zeroed both deltas.
	Suppressed bool `json:"suppressed,omitempty"`
}

// TrendPoint aggregates one timestamp of a timeframe.
type TrendPoint struct {
	Timestamp          string  `json:"timestamp"`
	Entries            int     `json:"entries"`
	MeanMetric         float64 `json:"mean_metric"`
	MeanFollowers      float64 `json:"mean_followers"`
	MeanSmartFollowers float64 `json:"mean_smart_followers"`
	BestRank           int     `json:"best_rank"`
}
