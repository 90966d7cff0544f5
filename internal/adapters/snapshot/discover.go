// Package snapshot reads provider snapshot files from disk.
package snapshot

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	model "github.com/okian/mindshare/internal/domain/model"
)

const jsonExt = ".json"

// Discover lists the snapshot files in dir that sort strictly after
// watermark, in ascending snapshot order. A missing dir yields no files.
func Discover(dir, watermark string) ([]string, error) {
	names, err := listSnapshots(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if model.SnapshotAfter(name, watermark) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}

// listSnapshots returns the names of regular *.json files in dir sorted by
// snapshot key.
func listSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		names = append(names, name)
	}
	slices.SortFunc(names, model.CompareSnapshots)
	return names, nil
}
