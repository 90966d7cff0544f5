package fixtures

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

// Metric distribution bands, in percent.
const (
	avgMin     = 0.3
	avgRange   = 0.7
	highMin    = 1.0
	highRange  = 2.0
	eliteMin   = 3.0
	eliteRange = 5.0
	lowMin     = 0.01
	lowRange   = 0.29
	bandCount  = 4
)

const (
	caseAverage = iota
	caseHigh
	caseElite
	caseLow
)

// Generator produces ranked entry sets for a fixed population.
type Generator struct {
	rnd        *rand.Rand
	identities []string
}

// NewGenerator creates a generator over population identities. The same seed
// yields the same sequence of leaderboards.
func NewGenerator(population int, seed uint64) *Generator {
	g := &Generator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	g.identities = make([]string, population)
	for i := range g.identities {
		g.identities[i] = fmt.Sprintf("user_%04d", i)
	}
	return g
}

// Leaderboard draws n entries from the population, ranked by metric.
func (g *Generator) Leaderboard(n int) []Entry {
	n = min(n, len(g.identities))
	perm := g.rnd.Perm(len(g.identities))[:n]

	entries := make([]Entry, n)
	for i, idx := range perm {
		id := g.identities[idx]
		entries[i] = Entry{
			Identity:        id,
			DisplayName:     "User " + id[len("user_"):],
			Image:           "https://img.example/" + id + ".png",
			Metric:          g.metric(),
			CompositeMetric: g.metric(),
			Followers:       int64(g.rnd.IntN(100000)),
			SmartFollowers:  int64(g.rnd.IntN(500)),
			Score:           float64(g.rnd.IntN(1000)),
		}
	}
	rankBy(entries, func(e Entry) float64 { return e.Metric }, func(e *Entry, r int) { e.Rank = r })
	rankBy(entries, func(e Entry) float64 { return e.CompositeMetric }, func(e *Entry, r int) { e.CompositeRank = r })
	slices.SortFunc(entries, func(a, b Entry) int { return a.Rank - b.Rank })
	return entries
}

func (g *Generator) metric() float64 {
	switch g.rnd.IntN(bandCount) {
	case caseHigh:
		return highMin + g.rnd.Float64()*highRange
	case caseElite:
		return eliteMin + g.rnd.Float64()*eliteRange
	case caseLow:
		return lowMin + g.rnd.Float64()*lowRange
	default:
		return avgMin + g.rnd.Float64()*avgRange
	}
}

func rankBy(entries []Entry, key func(Entry) float64, set func(*Entry, int)) {
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ka, kb := key(entries[a]), key(entries[b])
		switch {
		case ka > kb:
			return -1
		case ka < kb:
			return 1
		}
		return 0
	})
	for r, i := range order {
		set(&entries[i], r+1)
	}
}

// SeedConfig describes a synthetic snapshot series.
type SeedConfig struct {
	Dir        string
	Provider   model.Provider
	Project    string
	Timeframe  string
	Files      int
	Entries    int
	Population int
	Start      time.Time
	Step       time.Duration
	Seed       uint64
}

// Seed writes cfg.Files snapshots for one project timeframe and returns their
// paths in order. Kaito projects are laid out under "global".
func Seed(ctx context.Context, cfg SeedConfig) ([]string, error) {
	if cfg.Population < cfg.Entries {
		cfg.Population = cfg.Entries * 2
	}
	if cfg.Step <= 0 {
		cfg.Step = time.Hour
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(cfg.Files) * cfg.Step)
	}

	dir := filepath.Join(cfg.Dir, cfg.Project)
	if cfg.Provider == model.ProviderKaito {
		dir = filepath.Join(dir, "global")
	}
	dir = filepath.Join(dir, cfg.Timeframe)

	g := NewGenerator(cfg.Population, cfg.Seed)
	paths := make([]string, 0, cfg.Files)
	for i := 0; i < cfg.Files; i++ {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		at := cfg.Start.Add(time.Duration(i) * cfg.Step)
		suffix, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 6)
		if err != nil {
			return paths, fmt.Errorf("generate suffix: %w", err)
		}
		path, err := WriteNamed(dir, Filename(cfg.Provider, at, suffix), cfg.Provider, g.Leaderboard(cfg.Entries))
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	logger.Get().Info(ctx, "seeded snapshots",
		logger.String("project", cfg.Project),
		logger.String("timeframe", cfg.Timeframe),
		logger.Int("files", len(paths)))
	return paths, nil
}
