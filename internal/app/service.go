// Package service wires the ingestion pipeline, the per-project loaders,
// the rollup and the query facade into one supervised service.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	"github.com/okian/mindshare/internal/adapters/mq/worker"
	"github.com/okian/mindshare/internal/adapters/repository"
	"github.com/okian/mindshare/internal/adapters/snapshot"
	"github.com/okian/mindshare/internal/config"
	"github.com/okian/mindshare/internal/domain/differ"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/normalize"
	"github.com/okian/mindshare/pkg/logger"
)

const defaultShutdownTimeout = 15 * time.Second

// Service implements the API dependencies for the mindshare pipeline.
type Service struct {
	mu sync.Mutex

	cfg *config.Config

	bus        *queue.Bus
	registry   *Registry
	pipeline   *Pipeline
	global     *repository.GlobalStore
	aggregator *Aggregator
	trigger    *Trigger
	query      *Query
	supervisor atomic.Pointer[suture.Supervisor]

	// gmu guards global so rollups in flight never wait on mu.
	gmu sync.RWMutex

	opened  bool
	started bool
	cancel  context.CancelFunc
	done    <-chan error

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a service from cfg. Nothing is opened until Open or Start.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{
		cfg:    cfg,
		logger: logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	sources, err := Sources(cfg.Sources)
	if err != nil {
		return nil, err
	}
	d, err := Differ(cfg.Differ)
	if err != nil {
		return nil, err
	}

	s.bus = queue.NewBus(queue.WithLogger(s.logger.Named("bus")))
	s.registry = NewRegistry(cfg.StoreDir, sources,
		WithRescanInterval(cfg.Loader.RescanInterval),
		WithRegistryLogger(s.logger.Named("registry")),
		WithStoreOptions(
			repository.WithBusyTimeout(cfg.Store.BusyTimeout),
			repository.WithMaxExtraColumns(cfg.Store.MaxExtraColumns),
			repository.WithHistoryPoints(cfg.History.MaxPoints),
		),
	)
	s.pipeline = NewPipeline(s.registry,
		WithBatchFiles(cfg.Loader.BatchFiles),
		WithBreaker(cfg.Store.BreakerFailures, cfg.Store.BreakerTimeout),
		WithPublisher(s.bus),
		WithNormalizer(normalize.New(normalize.WithCollapseFields(cfg.Normalize.CollapseFields...))),
		WithPipelineLogger(s.logger.Named("pipeline")),
	)

	order, err := providers(cfg.Rollup.ProviderOrder)
	if err != nil {
		return nil, err
	}
	s.aggregator = NewAggregator(s.registry, publisherFunc(s.publish),
		WithProviderOrder(order...),
		WithReadConcurrency(cfg.Rollup.ReadConcurrency),
		WithAggregatorLogger(s.logger.Named("rollup")),
	)
	s.trigger = NewTrigger(s.aggregator,
		WithSchedule(cfg.Rollup.Interval, cfg.Rollup.Cooldown),
		WithTriggerLogger(s.logger.Named("rollup-trigger")),
	)
	// Loaders for projects found after Start, by the rescanner, join the
	// running tree.
	s.registry.OnProject(func(_ context.Context, p model.Project) {
		if sup := s.supervisor.Load(); sup != nil {
			sup.Add(s.newLoader(p.Name))
		}
	})
	s.query = NewQuery(s.registry, globalReader{s},
		WithDiffer(d),
		WithMaxPoints(cfg.History.MaxPoints),
		WithOverviewTTL(cfg.API.CacheTTL),
	)
	return s, nil
}

// Sources converts configured sources.
func Sources(in []config.Source) ([]snapshot.Source, error) {
	out := make([]snapshot.Source, 0, len(in))
	for _, src := range in {
		p, err := model.ParseProvider(src.Provider)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
		out = append(out, snapshot.Source{
			Provider:   p,
			Root:       src.Root,
			Prefix:     src.Prefix,
			Timeframes: src.Timeframes,
		})
	}
	return out, nil
}

// Differ builds the differ from its configuration.
func Differ(cfg config.DifferConfig) (*differ.Differ, error) {
	opts := []differ.Option{
		differ.WithDefaultThreshold(cfg.DefaultThreshold),
		differ.WithSentinel(cfg.SentinelRank),
	}
	for name, n := range cfg.Thresholds {
		p, err := model.ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
		opts = append(opts, differ.WithThreshold(p, n))
	}
	return differ.New(opts...), nil
}

func providers(names []string) ([]model.Provider, error) {
	out := make([]model.Provider, 0, len(names))
	for _, n := range names {
		p, err := model.ParseProvider(n)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Open opens the rollup store and scans the sources. Start calls it; the
// one-shot commands call it directly.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open(ctx)
}

func (s *Service) open(ctx context.Context) error {
	if s.opened {
		return nil
	}
	g, err := repository.OpenGlobal(ctx, s.cfg.GlobalDB,
		repository.WithBusyTimeout(s.cfg.Store.BusyTimeout),
		repository.WithLogger(s.logger.Named("global")))
	if err != nil {
		return err
	}
	s.gmu.Lock()
	s.global = g
	s.gmu.Unlock()
	projects, err := s.registry.Scan(ctx)
	if err != nil {
		s.logger.Warn(ctx, "some sources could not be scanned", logger.Error(err))
	}
	s.opened = true
	s.logger.Info(ctx, "service opened",
		logger.Int("projects", len(projects)),
		logger.String("store_dir", s.cfg.StoreDir),
		logger.String("global_db", s.cfg.GlobalDB))
	return nil
}

// Start opens the service and starts the supervised background work: one
// loader per project, the registry rescanner, the rollup trigger and the
// event workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting mindshare service...")

	if err := s.open(ctx); err != nil {
		return err
	}

	sup := suture.New("mindshare", suture.Spec{
		EventHook: s.supervisorHook(),
		Timeout:   defaultShutdownTimeout,
	})
	for _, p := range s.registry.Projects() {
		sup.Add(s.newLoader(p.Name))
	}
	sup.Add(s.registry)
	sup.Add(s.trigger)
	sup.Add(worker.NewEventWorker(s.bus, s.trigger,
		worker.WithName("rollup-trigger"), worker.WithLogger(s.logger.Named("rollup-worker"))))
	sup.Add(worker.NewEventWorker(s.bus, worker.HandlerFunc(s.query.HandleIngested),
		worker.WithName("overview-cache"), worker.WithLogger(s.logger.Named("cache-worker"))))
	s.supervisor.Store(sup)

	// The supervisor outlives the start context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = sup.ServeBackground(runCtx)
	s.started = true

	s.logger.Info(ctx, "mindshare service started",
		logger.Int("projects", len(s.registry.Projects())),
		logger.Duration("loader_interval", s.cfg.Loader.Interval),
		logger.Duration("rollup_interval", s.cfg.Rollup.Interval))
	return nil
}

func (s *Service) newLoader(project string) *Loader {
	return NewLoader(project, s.pipeline,
		WithInterval(s.cfg.Loader.Interval, s.cfg.Loader.Jitter),
		WithMaxBackoff(s.cfg.Loader.MaxBackoff),
		WithLoaderLogger(s.logger.Named("loader").Named(project)),
	)
}

func (s *Service) supervisorHook() suture.EventHook {
	return func(e suture.Event) {
		s.logger.Warn(context.Background(), e.String(), logger.Any("event", e.Map()))
	}
}

// Stop cancels the background work, waits for it and closes the stores.
// A stopped service cannot be started again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.logger.Info(ctx, "stopping mindshare service...")

	var errs []error
	if s.started {
		s.cancel()
		select {
		case err := <-s.done:
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("stop: %w", ctx.Err()))
		}
		s.started = false
		s.supervisor.Store(nil)
	}

	if err := s.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	s.gmu.Lock()
	if err := s.global.Close(); err != nil {
		errs = append(errs, err)
	}
	s.global = nil
	s.gmu.Unlock()
	s.opened = false
	s.logger.Info(ctx, "mindshare service stopped")
	return errors.Join(errs...)
}

// Query returns the read facade.
func (s *Service) Query() *Query { return s.query }

// Pipeline returns the ingestion pipeline.
func (s *Service) Pipeline() *Pipeline { return s.pipeline }

// Registry returns the project registry.
func (s *Service) Registry() *Registry { return s.registry }

// Trigger returns the rollup trigger.
func (s *Service) Trigger() *Trigger { return s.trigger }

// Bus returns the event bus.
func (s *Service) Bus() queue.Queue { return s.bus }

// Ready reports whether the stores are open.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *Service) publish(ctx context.Context, ids []model.GlobalIdentity, rankings []model.GlobalRanking, keep ...string) (repository.PublishStats, error) {
	g, err := s.globalStore()
	if err != nil {
		return repository.PublishStats{}, err
	}
	return g.Publish(ctx, ids, rankings, keep...)
}

func (s *Service) globalStore() (*repository.GlobalStore, error) {
	s.gmu.RLock()
	defer s.gmu.RUnlock()
	if s.global == nil {
		return nil, ErrNotStarted
	}
	return s.global, nil
}

type publisherFunc func(context.Context, []model.GlobalIdentity, []model.GlobalRanking, ...string) (repository.PublishStats, error)

func (f publisherFunc) Publish(ctx context.Context, ids []model.GlobalIdentity, rankings []model.GlobalRanking, keep ...string) (repository.PublishStats, error) {
	return f(ctx, ids, rankings, keep...)
}

// globalReader defers to the rollup store once it is open.
type globalReader struct{ s *Service }

func (r globalReader) Search(ctx context.Context, q string, limit int) ([]model.GlobalIdentity, error) {
	g, err := r.s.globalStore()
	if err != nil {
		return nil, err
	}
	return g.Search(ctx, q, limit)
}

func (r globalReader) Identity(ctx context.Context, id string) (*repository.IdentityView, error) {
	g, err := r.s.globalStore()
	if err != nil {
		return nil, err
	}
	return g.Identity(ctx, id)
}
