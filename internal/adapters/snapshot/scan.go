package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	model "github.com/okian/mindshare/internal/domain/model"
)

const kaitoTimeframeRoot = "global"

// Source is one provider's directory of project snapshot trees.
type Source struct {
	Provider model.Provider
	Root     string
	Prefix   string
	// Timeframes restricts the timeframes picked up; empty keeps all.
	Timeframes []string
}

// ScanProjects lists the projects under src.Root. Each subdirectory not
// starting with '_' or '.' is a project. Kaito projects keep their
// timeframes under a "global" child and are skipped without one.
func ScanProjects(src Source) ([]model.Project, error) {
	if src.Root == "" {
		return nil, fmt.Errorf("%w: %s has no root", ErrInvalidSource, src.Provider)
	}
	dirs, err := subdirs(src.Root)
	if err != nil {
		return nil, err
	}
	projects := make([]model.Project, 0, len(dirs))
	for _, name := range dirs {
		dir := filepath.Join(src.Root, name)
		tfRoot := dir
		if src.Provider == model.ProviderKaito {
			tfRoot = filepath.Join(dir, kaitoTimeframeRoot)
			if fi, err := os.Stat(tfRoot); err != nil || !fi.IsDir() {
				continue
			}
		}
		tfs, err := DetectTimeframes(tfRoot)
		if err != nil {
			return nil, err
		}
		if len(src.Timeframes) > 0 {
			tfs = slices.DeleteFunc(tfs, func(tf model.Timeframe) bool {
				return !slices.Contains(src.Timeframes, tf.Name)
			})
		}
		projects = append(projects, model.Project{
			Name:       src.Prefix + name,
			Provider:   src.Provider,
			Dir:        dir,
			Timeframes: tfs,
		})
	}
	return projects, nil
}

// DetectTimeframes lists the timeframe directories under root, sorted by
// normalized name.
func DetectTimeframes(root string) ([]model.Timeframe, error) {
	dirs, err := subdirs(root)
	if err != nil {
		return nil, err
	}
	tfs := make([]model.Timeframe, 0, len(dirs))
	for _, name := range dirs {
		tfs = append(tfs, model.Timeframe{
			Name: NormalizeTimeframe(name),
			Dir:  filepath.Join(root, name),
		})
	}
	slices.SortFunc(tfs, func(a, b model.Timeframe) int { return strings.Compare(a.Name, b.Name) })
	return tfs, nil
}

// NormalizeTimeframe maps "epoch_<digits>" to "epoch-<digits>". Other names
// are returned unchanged.
func NormalizeTimeframe(name string) string {
	rest, ok := strings.CutPrefix(name, "epoch_")
	if !ok || rest == "" {
		return name
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return name
		}
	}
	return "epoch-" + rest
}

func subdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}
