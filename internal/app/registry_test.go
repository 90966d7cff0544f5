package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindshare/internal/adapters/snapshot"
	service "github.com/okian/mindshare/internal/app"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

func TestRegistry(t *testing.T) {
	Convey("Given sources with projects", t, func() {
		root := t.TempDir()
		ctx := context.Background()
		mkdir := func(parts ...string) {
			So(os.MkdirAll(filepath.Join(append([]string{root}, parts...)...), 0o755), ShouldBeNil)
		}
		mkdir("cookie", "alpha", "7D")
		mkdir("cookie", "alpha", "epoch_2")
		mkdir("cookie", "_archive", "7D")
		mkdir("kaito", "beta", "global", "30D")
		mkdir("kaito", "nolayout", "7D")

		reg := service.NewRegistry(filepath.Join(root, "db"), []snapshot.Source{
			{Provider: model.ProviderCookie, Root: filepath.Join(root, "cookie")},
			{Provider: model.ProviderKaito, Root: filepath.Join(root, "kaito"), Prefix: "kaito-"},
		}, service.WithRegistryLogger(logger.Nop()))
		defer reg.Close()

		var (
			mu       sync.Mutex
			notified []string
		)
		reg.OnProject(func(_ context.Context, p model.Project) {
			mu.Lock()
			notified = append(notified, p.Name)
			mu.Unlock()
		})

		added, err := reg.Scan(ctx)
		So(err, ShouldBeNil)

		Convey("Scan registers each project once with its timeframes", func() {
			So(added, ShouldHaveLength, 2)
			So(notified, ShouldResemble, []string{"alpha", "kaito-beta"})

			projects := reg.Projects()
			So(projects, ShouldHaveLength, 2)
			So(projects[0].Name, ShouldEqual, "alpha")
			So(projects[0].TimeframeNames(), ShouldResemble, []string{"7D", "epoch-2"})
			So(projects[1].Provider, ShouldEqual, model.ProviderKaito)

			_, err := os.Stat(filepath.Join(root, "db", "alpha.db"))
			So(err, ShouldBeNil)
		})

		Convey("A rescan adds only new projects and refreshes timeframes", func() {
			mkdir("cookie", "alpha", "30D")
			mkdir("cookie", "gamma", "7D")

			added, err := reg.Scan(ctx)
			So(err, ShouldBeNil)
			So(added, ShouldHaveLength, 1)
			So(added[0].Name, ShouldEqual, "gamma")
			So(notified, ShouldHaveLength, 3)

			p, ok := reg.Project("alpha")
			So(ok, ShouldBeTrue)
			So(p.TimeframeNames(), ShouldResemble, []string{"30D", "7D", "epoch-2"})
		})

		Convey("Refresh updates one project", func() {
			mkdir("kaito", "beta", "global", "7D")
			p, err := reg.Refresh(ctx, "kaito-beta")
			So(err, ShouldBeNil)
			So(p.TimeframeNames(), ShouldResemble, []string{"30D", "7D"})
		})

		Convey("Unknown projects are reported", func() {
			_, ok := reg.Store("missing")
			So(ok, ShouldBeFalse)
			_, err := reg.Refresh(ctx, "missing")
			So(errors.Is(err, service.ErrUnknownProject), ShouldBeTrue)
		})
	})

	Convey("Given two sources producing the same project name", t, func() {
		root := t.TempDir()
		So(os.MkdirAll(filepath.Join(root, "a", "alpha", "7D"), 0o755), ShouldBeNil)
		So(os.MkdirAll(filepath.Join(root, "b", "alpha", "7D"), 0o755), ShouldBeNil)

		reg := service.NewRegistry(filepath.Join(root, "db"), []snapshot.Source{
			{Provider: model.ProviderCookie, Root: filepath.Join(root, "a")},
			{Provider: model.ProviderWallchain, Root: filepath.Join(root, "b")},
		}, service.WithRegistryLogger(logger.Nop()))
		defer reg.Close()

		Convey("The first source wins", func() {
			added, err := reg.Scan(context.Background())
			So(err, ShouldBeNil)
			So(added, ShouldHaveLength, 1)
			So(added[0].Provider, ShouldEqual, model.ProviderCookie)
		})
	})

	Convey("Given a source without a root", t, func() {
		reg := service.NewRegistry(t.TempDir(), []snapshot.Source{{Provider: model.ProviderCookie}},
			service.WithRegistryLogger(logger.Nop()))
		defer reg.Close()

		Convey("Scan reports it", func() {
			_, err := reg.Scan(context.Background())
			So(errors.Is(err, snapshot.ErrInvalidSource), ShouldBeTrue)
		})
	})
}
