package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pressly/goose/v3"

	"github.com/okian/mindshare/pkg/logger"
)

//go:embed migrations/project/*.sql migrations/global/*.sql
var embedMigrations embed.FS

const (
	projectMigrations = "migrations/project"
	globalMigrations  = "migrations/global"
	connMaxIdleTime   = 5 * time.Minute
	dirPermission     = 0o755
)

// dsn builds the connection string. Every connection runs in WAL mode and
// takes the write lock when a transaction begins.
func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	q.Set("_cache_size", "-64000")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func openDB(ctx context.Context, path, migrations string, o *options) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, dirPermission); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrOpen, dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err == nil {
		o.logger.Debug(ctx, "sqlite pragmas applied",
			logger.String("path", path),
			logger.String("journal_mode", mode))
	}

	if err := runMigrations(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}
	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB, dir string) error {
	fsys, err := fs.Sub(embedMigrations, dir)
	if err != nil {
		return fmt.Errorf("migrations %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
