package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/mindshare/internal/adapters/repository"
	"github.com/okian/mindshare/internal/adapters/snapshot"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const storeExt = ".db"

// Registry owns the project stores. Projects are found by scanning the
// configured sources; each new project gets its store opened and is
// announced to the OnProject callbacks.
type Registry struct {
	sources   []snapshot.Source
	storeDir  string
	storeOpts []repository.Option
	rescan    time.Duration
	log       logger.Logger

	scanMu sync.Mutex

	mu       sync.RWMutex
	projects map[string]*projectEntry
	onNew    []func(context.Context, model.Project)
	closed   bool
}

type projectEntry struct {
	project model.Project
	source  int
	store   repository.Store
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStoreOptions passes options to every project store opened.
func WithStoreOptions(opts ...repository.Option) RegistryOption {
	return func(r *Registry) { r.storeOpts = append(r.storeOpts, opts...) }
}

// WithRescanInterval sets how often Serve rescans the sources.
func WithRescanInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.rescan = d
		}
	}
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry creates a registry keeping one store per project in storeDir.
func NewRegistry(storeDir string, sources []snapshot.Source, opts ...RegistryOption) *Registry {
	r := &Registry{
		sources:  sources,
		storeDir: storeDir,
		rescan:   time.Minute,
		log:      logger.Get().Named("registry"),
		projects: make(map[string]*projectEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnProject registers fn to be called for every project Scan adds.
func (r *Registry) OnProject(fn func(context.Context, model.Project)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNew = append(r.onNew, fn)
}

// Scan walks every source. Known projects get their timeframes refreshed;
// new ones get a store and are returned. Source failures are joined and do
// not stop the other sources.
func (r *Registry) Scan(ctx context.Context) ([]model.Project, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	var (
		added []model.Project
		errs  []error
		seen  = make(map[string]int)
	)
	for i, src := range r.sources {
		found, err := snapshot.ScanProjects(src)
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %s: %w", src.Root, err))
			continue
		}
		for _, p := range found {
			if prev, dup := seen[p.Name]; dup {
				r.log.Warn(ctx, "duplicate project name, keeping the first source",
					logger.String("project", p.Name),
					logger.String("kept", r.sources[prev].Root),
					logger.String("ignored", src.Root))
				continue
			}
			seen[p.Name] = i
			if r.refresh(p) {
				continue
			}
			if err := r.add(ctx, p, i); err != nil {
				errs = append(errs, err)
				continue
			}
			added = append(added, p)
		}
	}

	r.mu.RLock()
	total := len(r.projects)
	callbacks := slices.Clone(r.onNew)
	r.mu.RUnlock()
	metrics.UpdateProjects(total)

	for _, p := range added {
		r.log.Info(ctx, "project registered",
			logger.String("project", p.Name),
			logger.String("provider", string(p.Provider)),
			logger.Any("timeframes", p.TimeframeNames()))
		for _, fn := range callbacks {
			fn(ctx, p)
		}
	}
	return added, errors.Join(errs...)
}

// Refresh rescans the source of one project and updates its timeframes.
func (r *Registry) Refresh(ctx context.Context, name string) (model.Project, error) {
	r.mu.RLock()
	e, ok := r.projects[name]
	r.mu.RUnlock()
	if !ok {
		return model.Project{}, fmt.Errorf("%w: %s", ErrUnknownProject, name)
	}
	found, err := snapshot.ScanProjects(r.sources[e.source])
	if err != nil {
		return e.project, err
	}
	for _, p := range found {
		if p.Name == name {
			r.refresh(p)
			return p, nil
		}
	}
	r.log.Debug(ctx, "project directory no longer present", logger.String("project", name))
	return e.project, nil
}

func (r *Registry) refresh(p model.Project) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.projects[p.Name]
	if ok {
		e.project.Timeframes = p.Timeframes
	}
	return ok
}

func (r *Registry) add(ctx context.Context, p model.Project, source int) error {
	if err := os.MkdirAll(r.storeDir, 0o755); err != nil {
		return fmt.Errorf("store dir: %w", err)
	}
	path := filepath.Join(r.storeDir, p.Name+storeExt)
	opts := append([]repository.Option{
		repository.WithLogger(r.log.Named(p.Name)),
	}, r.storeOpts...)
	st, err := repository.Open(ctx, path, opts...)
	if err != nil {
		return fmt.Errorf("open store for %s: %w", p.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = st.Close()
		return fmt.Errorf("registry closed")
	}
	r.projects[p.Name] = &projectEntry{project: p, source: source, store: st}
	return nil
}

// Projects returns the registered projects sorted by name.
func (r *Registry) Projects() []model.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Project, 0, len(r.projects))
	for _, e := range r.projects {
		out = append(out, e.project)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Project returns one project by name.
func (r *Registry) Project(name string) (model.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.projects[name]
	if !ok {
		return model.Project{}, false
	}
	return e.project, true
}

// Store returns the store of one project.
func (r *Registry) Store(name string) (repository.Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.projects[name]
	if !ok {
		return nil, false
	}
	return e.store, true
}

func (r *Registry) lookup(name string) (model.Project, repository.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.projects[name]
	if !ok {
		return model.Project{}, nil, fmt.Errorf("%w: %s", ErrUnknownProject, name)
	}
	return e.project, e.store, nil
}

// Serve rescans the sources until ctx ends.
func (r *Registry) Serve(ctx context.Context) error {
	t := time.NewTicker(r.rescan)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := r.Scan(ctx); err != nil {
				r.log.Warn(ctx, "rescan failed", logger.Error(err))
				metrics.RecordErrorByComponent("registry", "scan_error")
			}
		}
	}
}

func (r *Registry) String() string { return "registry" }

// Close closes every store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for name, e := range r.projects {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
