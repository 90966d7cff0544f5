// Package fixtures writes synthetic provider snapshots.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	model "github.com/okian/mindshare/internal/domain/model"
)

// File permission constants.
const (
	dirPermission  = 0o755
	filePermission = 0o644
)

// Entry is one synthetic leaderboard standing.
type Entry struct {
	Identity        string
	DisplayName     string
	Image           string
	Rank            int
	CompositeRank   int
	Metric          float64
	CompositeMetric float64
	Followers       int64
	SmartFollowers  int64
	Score           float64
}

// Filename returns the snapshot name for t in the provider's convention.
func Filename(p model.Provider, t time.Time, suffix string) string {
	if p == model.ProviderKaito {
		return t.UTC().Format("2006_0102_150405") + ".json"
	}
	if suffix == "" {
		suffix = string(p)
	}
	return t.UTC().Format("20060102_150405") + "_" + suffix + ".json"
}

// Envelope encodes entries in the provider's payload shape.
func Envelope(p model.Provider, entries []Entry) ([]byte, error) {
	switch p {
	case model.ProviderCookie:
		return json.Marshal(cookieEnvelope(entries))
	case model.ProviderWallchain:
		return json.Marshal(wallchainEnvelope(entries))
	case model.ProviderKaito:
		return json.Marshal(kaitoEnvelope(entries))
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownProvider, p)
	}
}

// Write stores entries as a snapshot file under dir and returns its path.
func Write(dir string, p model.Provider, t time.Time, entries []Entry) (string, error) {
	return WriteNamed(dir, Filename(p, t, ""), p, entries)
}

// WriteNamed stores entries under an explicit filename.
func WriteNamed(dir, name string, p model.Provider, entries []Entry) (string, error) {
	body, err := Envelope(p, entries)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, filePermission); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func cookieEnvelope(entries []Entry) map[string]any {
	snaps := make([]map[string]any, len(entries))
	for i, e := range entries {
		s := map[string]any{
			"username":        e.Identity,
			"displayName":     e.DisplayName,
			"profileImageUrl": e.Image,
			"rank":            e.Rank,
			"snapsPercent":    e.Metric,
			"followers":       e.Followers,
			"smartFollowers":  e.SmartFollowers,
		}
		if e.CompositeRank > 0 {
			s["cSnapsPercentRank"] = e.CompositeRank
			s["cSnapsPercent"] = e.CompositeMetric
		}
		snaps[i] = s
	}
	return map[string]any{
		"result": map[string]any{
			"data": map[string]any{
				"json": map[string]any{"snaps": snaps},
			},
		},
	}
}

// wallchainPageSize mirrors the upstream pagination.
const wallchainPageSize = 100

func wallchainEnvelope(entries []Entry) []map[string]any {
	pages := []map[string]any{}
	for start := 0; start < len(entries) || start == 0; start += wallchainPageSize {
		end := min(start+wallchainPageSize, len(entries))
		list := make([]map[string]any, 0, end-start)
		for _, e := range entries[start:end] {
			list = append(list, map[string]any{
				"xInfo": map[string]any{
					"id":       strconv.Itoa(len(e.Identity)*7919 + e.Rank),
					"username": e.Identity,
					"name":     e.DisplayName,
					"imageUrl": e.Image,
					"rank":     e.Rank,
					"score":    e.Score,
				},
				"mindsharePercentage": e.Metric,
				"relativeMindshare":   e.CompositeMetric,
				"appUseMultiplier":    1.0,
				"position":            e.Rank,
				"positionChange":      0,
			})
		}
		pages = append(pages, map[string]any{"entries": list})
		if end == len(entries) {
			break
		}
	}
	return pages
}

func kaitoEnvelope(entries []Entry) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"rank":          strconv.Itoa(e.Rank),
			"handle":        e.Identity,
			"displayName":   e.DisplayName,
			"imageId":       e.Image,
			"mindshare":     strconv.FormatFloat(e.Metric, 'f', 2, 64) + "%",
			"smartFollower": e.SmartFollowers,
			"follower":      e.Followers,
		}
	}
	return out
}
