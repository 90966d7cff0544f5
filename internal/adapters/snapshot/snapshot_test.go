package snapshot_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/adapters/snapshot"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/fixtures"
	"github.com/okian/mindshare/pkg/logger"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("[]"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func bases(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestDiscover(t *testing.T) {
	convey.Convey("Given a timeframe directory", t, func() {
		dir := t.TempDir()
		touch(t, dir,
			"20250103_000000_a.json",
			"20250101_000000_a.json",
			"20250102_000000_a.json",
			"notes.txt",
			".20250104_000000_a.json",
		)
		convey.So(os.Mkdir(filepath.Join(dir, "20250105_000000_a.json"), 0o755), convey.ShouldBeNil)

		convey.Convey("When the watermark is empty", func() {
			files, err := snapshot.Discover(dir, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(bases(files), convey.ShouldResemble, []string{
				"20250101_000000_a.json", "20250102_000000_a.json", "20250103_000000_a.json",
			})
		})

		convey.Convey("When a watermark is set", func() {
			files, err := snapshot.Discover(dir, "20250102_000000_a.json")
			convey.So(err, convey.ShouldBeNil)
			convey.So(bases(files), convey.ShouldResemble, []string{"20250103_000000_a.json"})
		})

		convey.Convey("When the watermark is the newest file", func() {
			files, err := snapshot.Discover(dir, "20250103_000000_a.json")
			convey.So(err, convey.ShouldBeNil)
			convey.So(files, convey.ShouldBeEmpty)
		})
	})

	convey.Convey("Given a missing directory", t, func() {
		files, err := snapshot.Discover(filepath.Join(t.TempDir(), "nope"), "")
		convey.So(err, convey.ShouldBeNil)
		convey.So(files, convey.ShouldBeEmpty)
	})
}

func TestParse(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []fixtures.Entry{
		{Identity: "alice", DisplayName: "Alice", Rank: 1, Metric: 2.5, CompositeRank: 2, CompositeMetric: 1.0},
		{Identity: "bob", DisplayName: "Bob", Rank: 2, Metric: 1.5, CompositeRank: 1, CompositeMetric: 2.0},
	}

	convey.Convey("Given a cookie snapshot", t, func() {
		path, err := fixtures.Write(t.TempDir(), model.ProviderCookie, at, entries)
		convey.So(err, convey.ShouldBeNil)

		p, err := snapshot.NewParser(model.ProviderCookie)
		convey.So(err, convey.ShouldBeNil)
		snap, err := p.Parse(path)

		convey.So(err, convey.ShouldBeNil)
		convey.So(snap.Timestamp, convey.ShouldEqual, "2025-01-02 03:04:05")
		convey.So(snap.Entries, convey.ShouldHaveLength, 2)
		convey.So(snap.Entries[0]["username"], convey.ShouldEqual, "alice")
	})

	convey.Convey("Given a wallchain snapshot", t, func() {
		path, err := fixtures.Write(t.TempDir(), model.ProviderWallchain, at, entries)
		convey.So(err, convey.ShouldBeNil)

		p, _ := snapshot.NewParser(model.ProviderWallchain)
		snap, err := p.Parse(path)

		convey.So(err, convey.ShouldBeNil)
		convey.So(snap.Entries, convey.ShouldHaveLength, 2)
		e := snap.Entries[1]
		convey.So(e["username"], convey.ShouldEqual, "bob")
		convey.So(e, convey.ShouldNotContainKey, "xInfo")
		convey.So(e, convey.ShouldContainKey, "mindsharePercentage")
		convey.So(e, convey.ShouldContainKey, "position")
	})

	convey.Convey("Given a wallchain entry without multiplier", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "20250101_000000_w.json")
		body := `[{"entries":[{"xInfo":{"username":"z","rank":4},"position":9}]}]`
		convey.So(os.WriteFile(path, []byte(body), 0o644), convey.ShouldBeNil)

		p, _ := snapshot.NewParser(model.ProviderWallchain)
		snap, err := p.Parse(path)

		convey.So(err, convey.ShouldBeNil)
		e := snap.Entries[0]
		convey.So(e["appUseMultiplier"], convey.ShouldEqual, json.Number("1.0"))
		convey.So(e["rank"], convey.ShouldEqual, json.Number("4"))
		convey.So(e["position"], convey.ShouldEqual, json.Number("9"))
	})

	convey.Convey("Given a kaito snapshot", t, func() {
		path, err := fixtures.Write(t.TempDir(), model.ProviderKaito, at, entries)
		convey.So(err, convey.ShouldBeNil)

		p, _ := snapshot.NewParser(model.ProviderKaito)
		snap, err := p.Parse(path)

		convey.So(err, convey.ShouldBeNil)
		convey.So(snap.Timestamp, convey.ShouldEqual, "2025-01-02 03:04:05")
		convey.So(snap.Entries[0]["mindshare"], convey.ShouldEqual, "2.50%")
	})

	convey.Convey("Given broken files", t, func() {
		dir := t.TempDir()
		p, _ := snapshot.NewParser(model.ProviderCookie)

		cases := map[string]string{
			"latest.json":            `{}`,
			"20250101_000000_x.json": `{not json`,
			"20250102_000000_x.json": `{"result":{"data":{}}}`,
			"20250103_000000_x.json": `{"result":{"data":{"json":{"snaps":{}}}}}`,
		}
		for name, body := range cases {
			path := filepath.Join(dir, name)
			convey.So(os.WriteFile(path, []byte(body), 0o644), convey.ShouldBeNil)

			_, err := p.Parse(path)
			var pe *snapshot.ParseError
			convey.So(errors.As(err, &pe), convey.ShouldBeTrue)
			convey.So(errors.Is(err, snapshot.ErrRecoverable), convey.ShouldBeTrue)
			convey.So(pe.Path, convey.ShouldEqual, path)
		}
	})

	convey.Convey("Given an unknown provider", t, func() {
		_, err := snapshot.NewParser("other")
		convey.So(errors.Is(err, snapshot.ErrUnknownProvider), convey.ShouldBeTrue)
	})
}

func TestSweep(t *testing.T) {
	convey.Convey("Given ingested snapshots", t, func() {
		dir := t.TempDir()
		touch(t, dir,
			"20250101_000000_a.json",
			"20250102_000000_a.json",
			"20250103_000000_a.json",
			"20250104_000000_a.json",
		)
		s := snapshot.NewSweeper(snapshot.WithLogger(logger.Nop()))

		convey.Convey("When swept against a watermark", func() {
			res, err := s.Sweep(context.Background(), dir, "20250103_000000_a.json")
			convey.So(err, convey.ShouldBeNil)
			convey.So(bases(res.Deleted), convey.ShouldResemble, []string{
				"20250101_000000_a.json", "20250102_000000_a.json",
			})

			left, _ := snapshot.Discover(dir, "")
			convey.So(bases(left), convey.ShouldResemble, []string{
				"20250103_000000_a.json", "20250104_000000_a.json",
			})
		})

		convey.Convey("When the watermark is empty", func() {
			res, err := s.Sweep(context.Background(), dir, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Deleted, convey.ShouldBeEmpty)
		})

		convey.Convey("When one delete fails", func() {
			failing := snapshot.NewSweeper(
				snapshot.WithLogger(logger.Nop()),
				snapshot.WithRemoveFunc(func(p string) error {
					if filepath.Base(p) == "20250101_000000_a.json" {
						return os.ErrPermission
					}
					return os.Remove(p)
				}),
			)
			res, err := failing.Sweep(context.Background(), dir, "20250104_000000_a.json")
			convey.So(err, convey.ShouldBeNil)
			convey.So(bases(res.Failed), convey.ShouldResemble, []string{"20250101_000000_a.json"})
			convey.So(res.Deleted, convey.ShouldHaveLength, 2)
		})
	})
}

func TestScanProjects(t *testing.T) {
	convey.Convey("Given a wallchain source tree", t, func() {
		root := t.TempDir()
		for _, d := range []string{"alpha/epoch_2", "alpha/epoch_omega", "alpha/_tmp", "beta/7D", "_archive/7D", ".git"} {
			convey.So(os.MkdirAll(filepath.Join(root, d), 0o755), convey.ShouldBeNil)
		}

		projects, err := snapshot.ScanProjects(snapshot.Source{
			Provider: model.ProviderWallchain, Root: root, Prefix: "wallchain-",
		})

		convey.So(err, convey.ShouldBeNil)
		convey.So(projects, convey.ShouldHaveLength, 2)
		convey.So(projects[0].Name, convey.ShouldEqual, "wallchain-alpha")
		convey.So(projects[0].TimeframeNames(), convey.ShouldResemble, []string{"epoch-2", "epoch_omega"})
		convey.So(projects[0].Timeframes[0].Dir, convey.ShouldEqual, filepath.Join(root, "alpha", "epoch_2"))
		convey.So(projects[1].TimeframeNames(), convey.ShouldResemble, []string{"7D"})
	})

	convey.Convey("Given a kaito source tree", t, func() {
		root := t.TempDir()
		convey.So(os.MkdirAll(filepath.Join(root, "gamma", "global", "30D"), 0o755), convey.ShouldBeNil)
		convey.So(os.MkdirAll(filepath.Join(root, "delta", "7D"), 0o755), convey.ShouldBeNil)

		projects, err := snapshot.ScanProjects(snapshot.Source{
			Provider: model.ProviderKaito, Root: root, Prefix: "kaito-", Timeframes: []string{"30D"},
		})

		convey.So(err, convey.ShouldBeNil)
		convey.So(projects, convey.ShouldHaveLength, 1)
		convey.So(projects[0].Name, convey.ShouldEqual, "kaito-gamma")
		convey.So(projects[0].Timeframes[0].Dir, convey.ShouldEqual, filepath.Join(root, "gamma", "global", "30D"))
	})

	convey.Convey("Given a source without root", t, func() {
		_, err := snapshot.ScanProjects(snapshot.Source{Provider: model.ProviderCookie})
		convey.So(errors.Is(err, snapshot.ErrInvalidSource), convey.ShouldBeTrue)
	})

	convey.Convey("Given timeframe names", t, func() {
		convey.So(snapshot.NormalizeTimeframe("epoch_12"), convey.ShouldEqual, "epoch-12")
		convey.So(snapshot.NormalizeTimeframe("epoch_"), convey.ShouldEqual, "epoch_")
		convey.So(snapshot.NormalizeTimeframe("TOTAL"), convey.ShouldEqual, "TOTAL")
	})
}
