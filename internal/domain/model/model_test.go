package model_test

import (
	"errors"
	"sort"
	"testing"

	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestSnapshotOrdering(t *testing.T) {
	convey.Convey("Given snapshot filenames", t, func() {
		convey.Convey("When keys are computed for conventional names", func() {
			names := []string{
				"20250102_000000_a.json",
				"20250101_000000_a.json",
				"20250101_120000_b.json",
				"20250101_120000_a.json",
			}
			byKey := append([]string(nil), names...)
			sort.Slice(byKey, func(i, j int) bool {
				return model.CompareSnapshots(byKey[i], byKey[j]) < 0
			})
			plain := append([]string(nil), names...)
			sort.Strings(plain)

			convey.Convey("Then key order equals plain lexicographic order", func() {
				convey.So(byKey, convey.ShouldResemble, plain)
			})
		})

		convey.Convey("When separators differ between names", func() {
			convey.Convey("Then the encoded time decides", func() {
				convey.So(model.SnapshotAfter("2026-0103-100000.json", "2026_0102_235959.json"), convey.ShouldBeTrue)
				convey.So(model.CompareSnapshots("2026_0103_100000.json", "2026-0103-100000.json"), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the watermark is empty", func() {
			convey.Convey("Then every name sorts after it", func() {
				convey.So(model.SnapshotAfter("20250101_000000_a.json", ""), convey.ShouldBeTrue)
				convey.So(model.CompareSnapshots("", ""), convey.ShouldEqual, 0)
				convey.So(model.CompareSnapshots("", "x"), convey.ShouldEqual, -1)
			})
		})
	})
}

func TestTimestampFromFilename(t *testing.T) {
	convey.Convey("Given snapshot filenames", t, func() {
		convey.Convey("When the name follows the convention", func() {
			ts, err := model.TimestampFromFilename("20250102_013045_cookie.json")
			convey.So(err, convey.ShouldBeNil)
			convey.So(ts, convey.ShouldEqual, "2025-01-02 01:30:45")
		})

		convey.Convey("When the name uses kaito separators", func() {
			ts, err := model.TimestampFromFilename("2026-0102-190000.json")
			convey.So(err, convey.ShouldBeNil)
			convey.So(ts, convey.ShouldEqual, "2026-01-02 19:00:00")
		})

		convey.Convey("When the name has no timestamp", func() {
			_, err := model.TimestampFromFilename("latest.json")
			convey.So(errors.Is(err, model.ErrInvalidFilename), convey.ShouldBeTrue)
		})

		convey.Convey("When the digits are not a valid time", func() {
			_, err := model.TimestampFromFilename("20251301_000000_a.json")
			convey.So(errors.Is(err, model.ErrInvalidFilename), convey.ShouldBeTrue)
		})

		convey.Convey("When the prefix is too short", func() {
			_, err := model.TimestampFromFilename("20250101_a.json")
			convey.So(errors.Is(err, model.ErrInvalidFilename), convey.ShouldBeTrue)
		})
	})
}

func TestParsers(t *testing.T) {
	convey.Convey("Given provider and metric names", t, func() {
		p, err := model.ParseProvider(" Wallchain ")
		convey.So(err, convey.ShouldBeNil)
		convey.So(p, convey.ShouldEqual, model.ProviderWallchain)

		p, err = model.ParseProvider("vooi")
		convey.So(err, convey.ShouldBeNil)
		convey.So(p, convey.ShouldEqual, model.ProviderCookie)

		_, err = model.ParseProvider("other")
		convey.So(errors.Is(err, model.ErrUnknownProvider), convey.ShouldBeTrue)

		m, err := model.ParseMetric("cSnapsPercent")
		convey.So(err, convey.ShouldBeNil)
		convey.So(m, convey.ShouldEqual, model.MetricComposite)

		m, err = model.ParseMetric("")
		convey.So(err, convey.ShouldBeNil)
		convey.So(m, convey.ShouldEqual, model.MetricMindshare)

		_, err = model.ParseMetric("followers")
		convey.So(errors.Is(err, model.ErrUnknownMetric), convey.ShouldBeTrue)
	})
}

func TestRowAccessors(t *testing.T) {
	convey.Convey("Given a row with only the primary metric", t, func() {
		row := model.Row{Identity: "a", Rank: 3, Metric: 1.5}

		rank, ok := row.RankFor(model.MetricMindshare)
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(rank, convey.ShouldEqual, 3)

		_, ok = row.RankFor(model.MetricComposite)
		convey.So(ok, convey.ShouldBeFalse)

		_, ok = row.MetricFor(model.MetricComposite)
		convey.So(ok, convey.ShouldBeFalse)

		convey.Convey("When the composite pair is set", func() {
			row.CompositeRank = model.Ptr(7)
			row.CompositeMetric = model.Ptr(0.25)

			rank, ok := row.RankFor(model.MetricComposite)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(rank, convey.ShouldEqual, 7)
			v, ok := row.MetricFor(model.MetricComposite)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(v, convey.ShouldEqual, 0.25)
		})

		convey.Convey("When the rank is missing", func() {
			row.Rank = 0
			_, ok := row.RankFor(model.MetricMindshare)
			convey.So(ok, convey.ShouldBeFalse)
		})
	})
}
