package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/config"
)

func run(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "mindshare.yaml")
	body := strings.Join([]string{
		"addr: 127.0.0.1:0",
		"log_level: warn",
		"store_dir: " + filepath.Join(dir, "db"),
		"global_db: " + filepath.Join(dir, "global.db"),
		"sources:",
		"  - provider: cookie",
		"    root: " + filepath.Join(dir, "cookie"),
		"rollup:",
		"  cooldown: 0s",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommands(t *testing.T) {
	convey.Convey("Given a config with one cookie source", t, func() {
		dir := t.TempDir()
		t.Chdir(dir)
		t.Setenv(config.EnvConfig, "")
		cfgPath := writeConfig(t, dir)
		ctx := context.Background()

		convey.Convey("When snapshots are seeded and ingested", func() {
			out, err := run(ctx, "seed", "--dir", filepath.Join(dir, "cookie"),
				"--project", "alpha", "--timeframe", "7D", "--files", "3", "--entries", "5")
			convey.So(err, convey.ShouldBeNil)
			convey.So(strings.Count(out, "\n"), convey.ShouldEqual, 3)

			out, err = run(ctx, "ingest", "-c", cfgPath, "--rollup")
			convey.So(err, convey.ShouldBeNil)

			dec := json.NewDecoder(strings.NewReader(out))
			var cycles []service.CycleResult
			convey.So(dec.Decode(&cycles), convey.ShouldBeNil)
			var rollup service.RollupResult
			convey.So(dec.Decode(&rollup), convey.ShouldBeNil)

			convey.Convey("Then every file was committed", func() {
				convey.So(cycles, convey.ShouldHaveLength, 1)
				convey.So(cycles[0].Project, convey.ShouldEqual, "alpha")
				convey.So(cycles[0].Files(), convey.ShouldEqual, 3)
				convey.So(cycles[0].Rows(), convey.ShouldEqual, 15)
			})

			convey.Convey("And the rollup published the project", func() {
				convey.So(rollup.Projects, convey.ShouldEqual, 1)
				convey.So(rollup.Stats.Identities, convey.ShouldEqual, 5)
			})

			convey.Convey("And a second ingest finds nothing new", func() {
				out, err := run(ctx, "ingest", "-c", cfgPath, "-p", "alpha")
				convey.So(err, convey.ShouldBeNil)
				var again []service.CycleResult
				convey.So(json.Unmarshal([]byte(out), &again), convey.ShouldBeNil)
				convey.So(again[0].Files(), convey.ShouldEqual, 0)
			})

			convey.Convey("And diff prints the comparison", func() {
				out, err := run(ctx, "diff", "-c", cfgPath, "-p", "alpha", "-t", "7D")
				convey.So(err, convey.ShouldBeNil)
				var res service.DiffResult
				convey.So(json.Unmarshal([]byte(out), &res), convey.ShouldBeNil)
				convey.So(res.Threshold, convey.ShouldEqual, 149)
				convey.So(res.From, convey.ShouldNotEqual, res.To)
				convey.So(res.Comparisons, convey.ShouldNotBeEmpty)
			})

			convey.Convey("And rollup runs on its own", func() {
				out, err := run(ctx, "rollup", "-c", cfgPath)
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, `"projects": 1`)
			})

			convey.Convey("And diff of an unknown project fails", func() {
				_, err := run(ctx, "diff", "-c", cfgPath, "-p", "ghost", "-t", "7D")
				convey.So(err, convey.ShouldWrap, service.ErrUnknownProject)
			})
		})

		convey.Convey("When diff is missing its flags", func() {
			_, err := run(ctx, "diff", "-c", cfgPath)

			convey.Convey("Then it fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When seed gets an unknown provider", func() {
			_, err := run(ctx, "seed", "--dir", dir, "--project", "a", "--provider", "other")

			convey.Convey("Then it fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestServe(t *testing.T) {
	convey.Convey("Given a valid config", t, func() {
		dir := t.TempDir()
		t.Chdir(dir)
		t.Setenv(config.EnvConfig, writeConfig(t, dir))

		cfg, err := (&rootOptions{}).load(context.Background())
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When serve runs until cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- serve(ctx, cfg) }()
			time.Sleep(200 * time.Millisecond)
			cancel()

			convey.Convey("Then it stops cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(10 * time.Second):
					convey.So("serve did not stop", convey.ShouldBeEmpty)
				}
			})
		})

		convey.Convey("When the address is invalid", func() {
			cfg.Addr = "256.0.0.1:1"
			err := serve(context.Background(), cfg)

			convey.Convey("Then startup fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}
