package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

func openTestGlobal(t *testing.T) *GlobalStore {
	t.Helper()
	g, err := OpenGlobal(context.Background(), filepath.Join(t.TempDir(), "global.db"), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("open global: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func ranking(id, project string, p model.Provider, rank int, metric float64) model.GlobalRanking {
	return model.GlobalRanking{
		Identity: id, Project: project, Provider: p, Timeframe: "7D",
		Rank: model.Ptr(rank), Metric: metric, CompositeMetric: model.Ptr(metric / 2),
	}
}

func TestGlobalStore_PublishZeroesStaleRankings(t *testing.T) {
	ctx := context.Background()
	g := openTestGlobal(t)

	first := []model.GlobalIdentity{{Identity: "alice", DisplayName: "Alice"}, {Identity: "bob", DisplayName: "Bob"}}
	stats, err := g.Publish(ctx, first, []model.GlobalRanking{
		ranking("alice", "p1", model.ProviderCookie, 1, 5),
		ranking("bob", "p1", model.ProviderCookie, 2, 3),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if stats.Identities != 2 || stats.Rankings != 2 || stats.Stale != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}

	stats, err = g.Publish(ctx, first[:1], []model.GlobalRanking{
		ranking("alice", "p1", model.ProviderCookie, 1, 6),
	})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if stats.Stale != 1 || stats.Identities != 2 || stats.Rankings != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	bob, err := g.Identity(ctx, "bob")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	r := bob.Providers[0].Projects[0].Rankings[0]
	if r.Metric != 0 || r.Rank != nil || r.CompositeMetric == nil || *r.CompositeMetric != 0 {
		t.Errorf("expected zeroed stale ranking, got %+v", r)
	}

	users, rankings, err := g.Counts(ctx)
	if err != nil || users != 2 || rankings != 2 {
		t.Errorf("unexpected counts %d %d %v", users, rankings, err)
	}
}

func TestGlobalStore_PublishKeepsUnreadProjects(t *testing.T) {
	ctx := context.Background()
	g := openTestGlobal(t)

	ids := []model.GlobalIdentity{{Identity: "alice"}, {Identity: "bob"}}
	if _, err := g.Publish(ctx, ids, []model.GlobalRanking{
		ranking("alice", "p1", model.ProviderCookie, 1, 5),
		ranking("bob", "p1", model.ProviderCookie, 2, 3),
		ranking("bob", "kaito-x", model.ProviderKaito, 4, 1.5),
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	stats, err := g.Publish(ctx, ids[:1], []model.GlobalRanking{
		ranking("alice", "p1", model.ProviderCookie, 1, 6),
	}, "kaito-x")
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if stats.Kept != 1 || stats.Stale != 1 || stats.Rankings != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	bob, err := g.Identity(ctx, "bob")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	for _, p := range bob.Providers {
		r := p.Projects[0].Rankings[0]
		switch r.Project {
		case "kaito-x":
			if r.Rank == nil || *r.Rank != 4 || r.Metric != 1.5 {
				t.Errorf("expected unchanged ranking, got %+v", r)
			}
		case "p1":
			if r.Rank != nil || r.Metric != 0 {
				t.Errorf("expected zeroed ranking, got %+v", r)
			}
		}
	}
}

func TestGlobalStore_SearchAndIdentity(t *testing.T) {
	ctx := context.Background()
	g := openTestGlobal(t)

	_, err := g.Publish(ctx,
		[]model.GlobalIdentity{
			{Identity: "carol", DisplayName: "Carol 100%"},
			{Identity: "alice", DisplayName: "Alice", Followers: model.Ptr[int64](10)},
			{Identity: "malice", DisplayName: "M"},
		},
		[]model.GlobalRanking{
			ranking("alice", "wallchain-x", model.ProviderWallchain, 4, 1),
			ranking("alice", "p2", model.ProviderCookie, 2, 2),
			ranking("alice", "p1", model.ProviderCookie, 1, 3),
		})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := g.Search(ctx, "lic", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].Identity != "alice" || got[1].Identity != "malice" {
		t.Errorf("unexpected search result %+v", got)
	}

	got, _ = g.Search(ctx, "%", 10)
	if len(got) != 1 || got[0].Identity != "carol" {
		t.Errorf("expected literal %% match, got %+v", got)
	}

	if _, err := g.Search(ctx, "a", 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}

	view, err := g.Identity(ctx, "alice")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if len(view.Providers) != 2 || view.Providers[0].Provider != model.ProviderCookie {
		t.Fatalf("unexpected grouping %+v", view.Providers)
	}
	if len(view.Providers[0].Projects) != 2 || view.Providers[0].Projects[0].Project != "p1" {
		t.Errorf("unexpected projects %+v", view.Providers[0].Projects)
	}
	if view.Followers == nil || *view.Followers != 10 {
		t.Errorf("unexpected followers %v", view.Followers)
	}

	if _, err := g.Identity(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGlobalStore_ReadersSeeWholeRollups(t *testing.T) {
	ctx := context.Background()
	g := openTestGlobal(t)

	build := func(n int, metric float64) ([]model.GlobalIdentity, []model.GlobalRanking) {
		ids := make([]model.GlobalIdentity, n)
		rs := make([]model.GlobalRanking, n)
		for i := range ids {
			id := string(rune('a'+i%26)) + string(rune('a'+i/26))
			ids[i] = model.GlobalIdentity{Identity: id}
			rs[i] = ranking(id, "p", model.ProviderCookie, i+1, metric)
		}
		return ids, rs
	}

	ids, rs := build(100, 1)
	if _, err := g.Publish(ctx, ids, rs); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var stop atomic.Bool
	var wg sync.WaitGroup
	var mixed atomic.Int32
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				var distinct int
				if err := g.db.QueryRowContext(ctx,
					`SELECT COUNT(DISTINCT metric) FROM rankings`).Scan(&distinct); err != nil {
					continue
				}
				if distinct > 1 {
					mixed.Add(1)
				}
			}
		}()
	}

	for i := 2; i < 8; i++ {
		ids, rs := build(100, float64(i))
		if _, err := g.Publish(ctx, ids, rs); err != nil {
			t.Errorf("publish %d: %v", i, err)
		}
	}
	stop.Store(true)
	wg.Wait()

	if mixed.Load() != 0 {
		t.Errorf("readers observed %d mixed rollups", mixed.Load())
	}
}
