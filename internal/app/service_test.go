package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/config"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

func TestService_New(t *testing.T) {
	Convey("Given a config with defaults", t, func() {
		Convey("Then a service can be built without touching disk", func() {
			s, err := service.New(config.New())
			So(err, ShouldBeNil)
			So(s.Ready(), ShouldBeFalse)
			So(s.Stop(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given a config naming an unknown provider", t, func() {
		cfg := config.New()
		cfg.Rollup.ProviderOrder = []string{"twitter"}

		Convey("Then New fails with ErrInvalidConfig", func() {
			_, err := service.New(cfg)
			So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given per provider thresholds", t, func() {
		d, err := service.Differ(config.DifferConfig{
			Thresholds:       map[string]int{"vooi": 20},
			DefaultThreshold: 300,
			SentinelRank:     5000,
		})
		So(err, ShouldBeNil)

		Convey("Then aliases resolve and the default covers the rest", func() {
			So(d.Threshold(model.ProviderCookie), ShouldEqual, 20)
			So(d.Threshold(model.ProviderKaito), ShouldEqual, 300)
			So(d.Sentinel(), ShouldEqual, 5000)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a started service over a snapshot tree", t, func() {
		e := newEnv(t)
		// Events published before a worker subscribes are dropped, so the
		// schedule and the cache TTL are short enough to catch up.
		e.cfg.Rollup.Interval = 100 * time.Millisecond
		e.cfg.API.CacheTTL = 50 * time.Millisecond
		write(t, e.cookieDir("alpha", "7D"), model.ProviderCookie, 0, entry("a", 1, 10), entry("b", 2, 5))
		s, err := service.New(e.cfg, service.WithLogger(logger.Nop()))
		So(err, ShouldBeNil)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(s.Start(ctx), ShouldBeNil)
		So(s.Start(ctx), ShouldBeNil)
		So(s.Ready(), ShouldBeTrue)

		Convey("The loader ingests and the rollup follows the event", func() {
			So(eventually(func() bool {
				ts, err := s.Query().AvailableTimestamps(ctx, "alpha", "7D")
				return err == nil && len(ts) == 1
			}), ShouldBeTrue)
			So(eventually(func() bool {
				found, err := s.Query().Search(ctx, "", 10)
				return err == nil && len(found) == 2
			}), ShouldBeTrue)
			So(eventually(func() bool {
				p, err := s.Query().Projects(ctx)
				return err == nil && len(p) == 1 && p[0].Timeframes[0].Latest == stamp(0)
			}), ShouldBeTrue)
		})

		Convey("A project created later is picked up by the rescanner", func() {
			write(t, e.kaitoDir("late", "7D"), model.ProviderKaito, 3, entry("z", 1, 4))
			So(eventually(func() bool {
				ts, err := s.Query().AvailableTimestamps(ctx, "kaito-late", "7D")
				return err == nil && len(ts) == 1
			}), ShouldBeTrue)
		})

		Convey("Stop shuts everything down", func() {
			So(s.Stop(ctx), ShouldBeNil)
			So(s.Ready(), ShouldBeFalse)
			_, err := s.Query().Search(ctx, "a", 10)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Reset(func() { _ = s.Stop(context.Background()) })
	})
}
