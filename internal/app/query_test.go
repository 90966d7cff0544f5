package service_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	service "github.com/okian/mindshare/internal/app"
	model "github.com/okian/mindshare/internal/domain/model"
)

func TestQuery(t *testing.T) {
	Convey("Given a cookie project with three snapshots", t, func() {
		e := newEnv(t)
		dir := e.cookieDir("alpha", "7D")
		write(t, dir, model.ProviderCookie, 0, entry("a", 1, 10), entry("b", 2, 5))
		write(t, dir, model.ProviderCookie, 1, entry("a", 2, 8), entry("b", 1, 12), entry("c", 3, 1))
		write(t, dir, model.ProviderCookie, 2, entry("b", 1, 14), entry("c", 2, 3))
		s := e.open(t)
		ctx := context.Background()
		q := s.Query()

		overview, err := q.Projects(ctx)
		So(err, ShouldBeNil)
		So(overview, ShouldHaveLength, 1)
		So(overview[0].Timeframes[0].Latest, ShouldBeEmpty)

		_, err = s.Pipeline().IngestOnce(ctx, "alpha")
		So(err, ShouldBeNil)

		Convey("The overview is cached until an event invalidates it", func() {
			cached, err := q.Projects(ctx)
			So(err, ShouldBeNil)
			So(cached[0].Timeframes[0].Latest, ShouldBeEmpty)

			So(q.HandleIngested(ctx, queue.Event{Project: "alpha"}), ShouldBeNil)
			fresh, err := q.Projects(ctx)
			So(err, ShouldBeNil)
			So(fresh[0].Timeframes[0].Latest, ShouldEqual, stamp(2))
			So(fresh[0].Timeframes[0].Watermark, ShouldNotBeEmpty)
		})

		Convey("Diff defaults to the oldest and newest timestamps", func() {
			res, err := q.Diff(ctx, "alpha", "7D", "", "", model.MetricMindshare)
			So(err, ShouldBeNil)
			So(res.From, ShouldEqual, stamp(0))
			So(res.To, ShouldEqual, stamp(2))
			So(res.Threshold, ShouldEqual, 149)

			byID := map[string]model.Comparison{}
			for _, c := range res.Comparisons {
				byID[c.Identity] = c
			}
			So(byID["a"].Transition, ShouldEqual, model.TransitionOut)
			So(byID["b"].RankChange, ShouldEqual, 1)
			So(byID["b"].MetricChange, ShouldAlmostEqual, 9)
			So(byID["c"].Transition, ShouldEqual, model.TransitionNew)
			So(byID["c"].Suppressed, ShouldBeTrue)
		})

		Convey("Diff rejects unknown timestamps", func() {
			_, err := q.Diff(ctx, "alpha", "7D", "2020-01-01 00:00:00", "", model.MetricMindshare)
			So(errors.Is(err, service.ErrInvalidArgument), ShouldBeTrue)
		})

		Convey("Diff on an empty timeframe reports no data", func() {
			_, err := q.Diff(ctx, "alpha", "30D", "", "", model.MetricMindshare)
			So(errors.Is(err, service.ErrNoData), ShouldBeTrue)
		})

		Convey("TopN sorts the latest slice by metric", func() {
			rows, err := q.TopN(ctx, "alpha", "7D", model.MetricMindshare, 1)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)
			So(rows[0].Identity, ShouldEqual, "b")
		})

		Convey("History and Compare return series", func() {
			rows, err := q.History(ctx, "alpha", "7D", "b", 0)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 3)

			series, err := q.Compare(ctx, "alpha", "7D", []string{"a", "c"})
			So(err, ShouldBeNil)
			So(series, ShouldHaveLength, 2)
			So(series[0].Points, ShouldHaveLength, 2)
			So(series[1].Points, ShouldHaveLength, 2)
		})

		Convey("Trend aggregates each timestamp", func() {
			points, err := q.Trend(ctx, "alpha", "7D", model.MetricMindshare)
			So(err, ShouldBeNil)
			So(points, ShouldHaveLength, 3)
			So(points[2].Entries, ShouldEqual, 2)
			So(points[2].BestRank, ShouldEqual, 1)
		})

		Convey("LatestIdentities lists the newest slice", func() {
			ids, err := q.LatestIdentities(ctx, "alpha", "7D")
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{"b", "c"})
		})

		Convey("Unknown projects fail with ErrUnknownProject", func() {
			_, err := q.SliceAt(ctx, "nope", "7D", "")
			So(errors.Is(err, service.ErrUnknownProject), ShouldBeTrue)
		})

		Convey("The latest slice of an empty timeframe reports no data", func() {
			_, err := q.SliceAt(ctx, "alpha", "30D", "")
			So(errors.Is(err, service.ErrNoData), ShouldBeTrue)
		})
	})
}
