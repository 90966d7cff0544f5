package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/config"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/fixtures"
	"github.com/okian/mindshare/pkg/logger"
)

type env struct {
	root string
	cfg  *config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	cfg := config.New()
	cfg.StoreDir = filepath.Join(root, "db")
	cfg.GlobalDB = filepath.Join(root, "global.db")
	cfg.Sources = []config.Source{
		{Provider: "cookie", Root: filepath.Join(root, "cookie")},
		{Provider: "kaito", Root: filepath.Join(root, "kaito"), Prefix: "kaito-"},
	}
	cfg.Loader.Interval = 20 * time.Millisecond
	cfg.Loader.Jitter = 0
	cfg.Loader.RescanInterval = 50 * time.Millisecond
	cfg.Rollup.Cooldown = 0
	cfg.API.CacheTTL = 0
	return &env{root: root, cfg: cfg}
}

// cookieDir returns the timeframe directory of a cookie project.
func (e *env) cookieDir(project, timeframe string) string {
	return filepath.Join(e.root, "cookie", project, timeframe)
}

// kaitoDir returns the timeframe directory of a kaito project.
func (e *env) kaitoDir(project, timeframe string) string {
	return filepath.Join(e.root, "kaito", project, "global", timeframe)
}

func (e *env) open(t *testing.T) *service.Service {
	t.Helper()
	s, err := service.New(e.cfg, service.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open service: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func at(hour int) time.Time {
	return time.Date(2025, 1, 1, hour, 0, 0, 0, time.UTC)
}

func stamp(hour int) string {
	return at(hour).Format(model.TimestampLayout)
}

func entry(id string, rank int, metric float64) fixtures.Entry {
	return fixtures.Entry{
		Identity:        id,
		DisplayName:     strings.ToUpper(id),
		Image:           "https://img/" + id,
		Rank:            rank,
		CompositeRank:   rank,
		Metric:          metric,
		CompositeMetric: metric / 2,
		Followers:       1000,
		SmartFollowers:  10,
	}
}

func write(t *testing.T, dir string, p model.Provider, hour int, entries ...fixtures.Entry) string {
	t.Helper()
	path, err := fixtures.Write(dir, p, at(hour), entries)
	if err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func writeCorrupt(t *testing.T, dir string, p model.Provider, hour int) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, fixtures.Filename(p, at(hour), ""))
	if err := os.WriteFile(path, []byte(`{"result": {"data": `), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func configSource(provider, root, prefix string) config.Source {
	return config.Source{Provider: provider, Root: root, Prefix: prefix}
}
