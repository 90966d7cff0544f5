package service_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/mindshare/internal/app"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/fixtures"
	"github.com/okian/mindshare/pkg/metrics"
)

func TestRollup(t *testing.T) {
	Convey("Given ingested cookie and kaito projects", t, func() {
		e := newEnv(t)
		write(t, e.cookieDir("alpha", "7D"), model.ProviderCookie, 0,
			entry("a", 1, 10), entry("b", 2, 5))
		kaitoA := entry("a", 4, 1.5)
		kaitoA.DisplayName = "Alice"
		kaitoA.Followers = 5000
		write(t, e.kaitoDir("beta", "30D"), model.ProviderKaito, 0, kaitoA)
		s := e.open(t)
		ctx := context.Background()
		_, err := s.Pipeline().IngestAll(ctx)
		So(err, ShouldBeNil)

		Convey("A rollup merges identities across providers", func() {
			res, err := s.Trigger().Run(ctx, metrics.TriggerManual)
			So(err, ShouldBeNil)
			So(res.Projects, ShouldEqual, 2)
			So(res.Stats.Identities, ShouldEqual, 2)
			So(res.Stats.Rankings, ShouldEqual, 3)

			view, err := s.Query().Identity(ctx, "a")
			So(err, ShouldBeNil)
			So(view.DisplayName, ShouldEqual, "Alice")
			So(*view.Followers, ShouldEqual, 5000)
			So(view.Providers, ShouldHaveLength, 2)
			So(view.Providers[0].Provider, ShouldEqual, model.ProviderCookie)
			So(view.Providers[1].Projects[0].Project, ShouldEqual, "kaito-beta")

			found, err := s.Query().Search(ctx, "ali", 10)
			So(err, ShouldBeNil)
			So(found, ShouldHaveLength, 1)
			So(found[0].Identity, ShouldEqual, "a")
		})

		Convey("An identity that drops out keeps a zeroed ranking", func() {
			_, err := s.Trigger().Run(ctx, metrics.TriggerManual)
			So(err, ShouldBeNil)

			write(t, e.cookieDir("alpha", "7D"), model.ProviderCookie, 1, entry("a", 1, 12))
			_, err = s.Pipeline().IngestOnce(ctx, "alpha")
			So(err, ShouldBeNil)

			res, err := s.Trigger().Run(ctx, metrics.TriggerManual)
			So(err, ShouldBeNil)
			So(res.Stats.Stale, ShouldEqual, 1)

			view, err := s.Query().Identity(ctx, "b")
			So(err, ShouldBeNil)
			r := view.Providers[0].Projects[0].Rankings[0]
			So(r.Rank, ShouldBeNil)
			So(r.Metric, ShouldEqual, 0)
		})

		Convey("An unreadable project keeps its previous rankings", func() {
			_, err := s.Trigger().Run(ctx, metrics.TriggerManual)
			So(err, ShouldBeNil)

			st, ok := s.Registry().Store("kaito-beta")
			So(ok, ShouldBeTrue)
			So(st.Close(), ShouldBeNil)

			res, err := s.Trigger().Run(ctx, metrics.TriggerManual)
			var partial *service.RollupPartialError
			So(errors.As(err, &partial), ShouldBeTrue)
			So(res.Failed, ShouldResemble, []string{"kaito-beta"})
			So(res.Stats.Kept, ShouldEqual, 1)
			So(res.Stats.Stale, ShouldEqual, 0)

			view, err := s.Query().Identity(ctx, "a")
			So(err, ShouldBeNil)
			So(view.Providers, ShouldHaveLength, 2)
			r := view.Providers[1].Projects[0].Rankings[0]
			So(r.Project, ShouldEqual, "kaito-beta")
			So(r.Rank, ShouldNotBeNil)
			So(*r.Rank, ShouldEqual, 4)
			So(r.Metric, ShouldAlmostEqual, 1.5)
		})

		Convey("An unreadable project is left out and reported", func() {
			st, ok := s.Registry().Store("kaito-beta")
			So(ok, ShouldBeTrue)
			So(st.Close(), ShouldBeNil)

			res, err := s.Trigger().Run(ctx, metrics.TriggerManual)
			var partial *service.RollupPartialError
			So(errors.As(err, &partial), ShouldBeTrue)
			So(res.Failed, ShouldResemble, []string{"kaito-beta"})
			So(res.Stats.Identities, ShouldEqual, 2)

			view, err := s.Query().Identity(ctx, "a")
			So(err, ShouldBeNil)
			So(view.Providers, ShouldHaveLength, 1)
		})
	})
}

func TestRollup_SeededProjects(t *testing.T) {
	Convey("Given seeded snapshots for three providers", t, func() {
		e := newEnv(t)
		e.cfg.Sources = append(e.cfg.Sources, configSource("wallchain", e.root+"/wallchain", "wallchain-"))
		ctx := context.Background()
		for _, sc := range []fixtures.SeedConfig{
			{Dir: e.root + "/cookie", Provider: model.ProviderCookie, Project: "alpha", Timeframe: "7D", Files: 3, Entries: 20, Seed: 1},
			{Dir: e.root + "/kaito", Provider: model.ProviderKaito, Project: "beta", Timeframe: "7D", Files: 2, Entries: 20, Seed: 2},
			{Dir: e.root + "/wallchain", Provider: model.ProviderWallchain, Project: "gamma", Timeframe: "epoch_1", Files: 2, Entries: 20, Seed: 3},
		} {
			_, err := fixtures.Seed(ctx, sc)
			So(err, ShouldBeNil)
		}
		s := e.open(t)

		Convey("Every project ingests and the rollup covers all of them", func() {
			results, err := s.Pipeline().IngestAll(ctx)
			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 3)
			for _, r := range results {
				So(r.Rows(), ShouldBeGreaterThan, 0)
			}

			res, err := s.Trigger().Run(ctx, metrics.TriggerManual)
			So(err, ShouldBeNil)
			So(res.Stats.Rankings, ShouldEqual, 60)
			So(res.Stats.Identities, ShouldBeGreaterThanOrEqualTo, 20)
		})
	})
}
