package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

// SweepResult lists the files a sweep removed and the ones it could not.
type SweepResult struct {
	Deleted []string
	Failed  []string
}

// Sweeper deletes snapshot files already covered by a watermark.
type Sweeper struct {
	log    logger.Logger
	remove func(string) error
}

// NewSweeper creates a Sweeper.
func NewSweeper(opts ...Option) *Sweeper {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Sweeper{log: o.logger, remove: o.remove}
}

// Sweep deletes files in dir whose name sorts strictly before watermark. The
// watermark file and anything newer are kept. An empty watermark deletes
// nothing. Per-file failures are logged and the sweep continues.
func (s *Sweeper) Sweep(ctx context.Context, dir, watermark string) (SweepResult, error) {
	var res SweepResult
	if watermark == "" {
		return res, nil
	}
	names, err := listSnapshots(dir)
	if err != nil {
		return res, err
	}
	for _, name := range names {
		if model.CompareSnapshots(name, watermark) >= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		path := filepath.Join(dir, name)
		if err := s.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn(ctx, "failed to delete superseded snapshot",
				logger.String("path", path),
				logger.String("watermark", watermark),
				logger.Error(err))
			res.Failed = append(res.Failed, path)
			continue
		}
		res.Deleted = append(res.Deleted, path)
	}
	return res, nil
}

func defaultRemove(path string) error { return os.Remove(path) }
