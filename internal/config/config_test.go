package config_test

import (
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Loader.Interval, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Loader.BatchFiles, convey.ShouldEqual, 50)
			convey.So(cfg.Store.MaxExtraColumns, convey.ShouldEqual, 64)
			convey.So(cfg.Differ.Thresholds["cookie"], convey.ShouldEqual, 149)
			convey.So(cfg.Differ.Thresholds["wallchain"], convey.ShouldEqual, 500)
			convey.So(cfg.Differ.SentinelRank, convey.ShouldEqual, 9999)
			convey.So(cfg.Rollup.ProviderOrder, convey.ShouldResemble, []string{"cookie", "kaito", "wallchain"})
			convey.So(cfg.Sources, convey.ShouldHaveLength, 3)
		})

		convey.Convey("Then the defaults validate", func() {
			convey.So(config.Validate(cfg), convey.ShouldBeNil)
		})
	})
}
