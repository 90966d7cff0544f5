// Package normalize converts provider leaderboard entries into store rows.
package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	model "github.com/okian/mindshare/internal/domain/model"
)

// DefaultCollapseFields are nested keys replaced by their element count.
var DefaultCollapseFields = []string{
	"smartFollowersList",
	"followersList",
	"topTweets",
	"tweets",
	"mentions",
}

// Warning describes a value the normalizer could not use as given.
type Warning struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("entry %d: %s: %s", w.Index, w.Field, w.Reason)
}

type fieldMap struct {
	identity        string
	displayName     string
	image           string
	rank            string
	compositeRank   string
	metric          string
	compositeMetric string
	followers       string
	smartFollowers  string
	score           string
	positionChange  string
	// renamed keys are kept in Extra under another name.
	renamed map[string]string
}

var fieldMaps = map[model.Provider]fieldMap{
	model.ProviderCookie: {
		identity:        "username",
		displayName:     "displayName",
		image:           "profileImageUrl",
		rank:            "rank",
		compositeRank:   "cSnapsPercentRank",
		metric:          "snapsPercent",
		compositeMetric: "cSnapsPercent",
		followers:       "followers",
		smartFollowers:  "smartFollowers",
	},
	model.ProviderWallchain: {
		identity:        "username",
		displayName:     "name",
		image:           "imageUrl",
		rank:            "position",
		metric:          "mindsharePercentage",
		compositeMetric: "relativeMindshare",
		score:           "score",
		positionChange:  "positionChange",
		renamed:         map[string]string{"rank": "xRank"},
	},
	model.ProviderKaito: {
		identity:       "handle",
		displayName:    "displayName",
		image:          "imageId",
		rank:           "rank",
		metric:         "mindshare",
		followers:      "follower",
		smartFollowers: "smartFollower",
	},
}

func (m fieldMap) typed() map[string]struct{} {
	keys := map[string]struct{}{}
	for _, k := range []string{
		m.identity, m.displayName, m.image, m.rank, m.compositeRank,
		m.metric, m.compositeMetric, m.followers, m.smartFollowers,
		m.score, m.positionChange, "timeframe", "timestamp",
	} {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}

// Normalizer maps raw entries to model.Row values.
type Normalizer struct {
	collapse map[string]struct{}
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithCollapseFields replaces the set of nested keys collapsed to counts.
func WithCollapseFields(keys ...string) Option {
	return func(n *Normalizer) {
		n.collapse = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			n.collapse[k] = struct{}{}
		}
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{}
	WithCollapseFields(DefaultCollapseFields...)(n)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize stamps every entry with timeframe and timestamp and maps it to a
// row. Entries without an identity are dropped. Values that fail to parse
// become zero or nil and are reported as warnings.
func (n *Normalizer) Normalize(provider model.Provider, timeframe, timestamp string, entries []map[string]any) ([]model.Row, []Warning) {
	fm, ok := fieldMaps[provider]
	if !ok {
		return nil, []Warning{{Index: -1, Field: "provider", Reason: fmt.Sprintf("unknown provider %q", provider)}}
	}
	typed := fm.typed()

	rows := make([]model.Row, 0, len(entries))
	var warns []Warning
	for i, e := range entries {
		w := &collector{index: i}
		row, ok := n.row(fm, typed, e, w)
		warns = append(warns, w.warns...)
		if !ok {
			continue
		}
		row.Timeframe = timeframe
		row.Timestamp = timestamp
		rows = append(rows, row)
	}
	return rows, warns
}

type collector struct {
	index int
	warns []Warning
}

func (c *collector) add(field, reason string) {
	c.warns = append(c.warns, Warning{Index: c.index, Field: field, Reason: reason})
}

func (n *Normalizer) row(fm fieldMap, typed map[string]struct{}, e map[string]any, w *collector) (model.Row, bool) {
	var row model.Row

	id, _ := stringify(e[fm.identity])
	row.Identity = strings.TrimSpace(id)
	if row.Identity == "" {
		w.add(fm.identity, "missing identity, entry dropped")
		return row, false
	}
	row.DisplayName = text(e, fm.displayName)
	row.ImageURL = text(e, fm.image)

	if v, ok := intField(e, fm.rank, w); ok {
		row.Rank = int(v)
	}
	if v, ok := intField(e, fm.compositeRank, w); ok {
		row.CompositeRank = model.Ptr(int(v))
	}
	if v, ok := floatField(e, fm.metric, w); ok {
		row.Metric = v
	}
	if v, ok := floatField(e, fm.compositeMetric, w); ok {
		row.CompositeMetric = model.Ptr(v)
	}
	if v, ok := intField(e, fm.followers, w); ok {
		row.Followers = model.Ptr(v)
	}
	if v, ok := intField(e, fm.smartFollowers, w); ok {
		row.SmartFollowers = model.Ptr(v)
	}
	if v, ok := floatField(e, fm.score, w); ok {
		row.Score = model.Ptr(v)
	}
	if v, ok := intField(e, fm.positionChange, w); ok {
		row.PositionChange = model.Ptr(int(v))
	}

	for k, v := range e {
		if _, ok := typed[k]; ok || v == nil {
			continue
		}
		key := k
		if to, ok := fm.renamed[k]; ok {
			key = to
		}
		if row.Extra == nil {
			row.Extra = make(map[string]string)
		}
		n.extra(row.Extra, key, v, w)
	}
	return row, true
}

func (n *Normalizer) extra(dst map[string]string, key string, v any, w *collector) {
	if s, ok := stringify(v); ok {
		dst[key] = s
		return
	}
	if _, ok := n.collapse[key]; ok {
		switch x := v.(type) {
		case []any:
			dst[key+"Count"] = strconv.Itoa(len(x))
			return
		case map[string]any:
			dst[key+"Count"] = strconv.Itoa(len(x))
			return
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.add(key, "cannot serialize: "+err.Error())
		return
	}
	dst[key] = string(b)
}

func text(e map[string]any, key string) string {
	if key == "" {
		return ""
	}
	s, _ := stringify(e[key])
	return strings.TrimSpace(s)
}

func floatField(e map[string]any, key string, w *collector) (float64, bool) {
	if key == "" {
		return 0, false
	}
	v, present := e[key]
	if !present || v == nil {
		return 0, false
	}
	f, ok := ParsePercent(v)
	if !ok {
		w.add(key, fmt.Sprintf("not a number: %v", v))
		return 0, false
	}
	return f, true
}

func intField(e map[string]any, key string, w *collector) (int64, bool) {
	if key == "" {
		return 0, false
	}
	v, present := e[key]
	if !present || v == nil {
		return 0, false
	}
	i, ok := ParseInt(v)
	if !ok {
		w.add(key, fmt.Sprintf("not an integer: %v", v))
		return 0, false
	}
	return i, true
}
