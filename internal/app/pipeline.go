package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	"github.com/okian/mindshare/internal/adapters/repository"
	"github.com/okian/mindshare/internal/adapters/snapshot"
	"github.com/okian/mindshare/internal/domain/dedupe"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/normalize"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const (
	defaultBatchFiles      = 50
	defaultBreakerFailures = 3
	defaultBreakerTimeout  = time.Minute
	batchIDSize            = 12
	commitTimeout          = 30 * time.Second
)

// TimeframeResult describes one timeframe of an ingestion cycle.
type TimeframeResult struct {
	Timeframe string `json:"timeframe"`
	// Files counts snapshot files committed.
	Files int `json:"files"`
	// Failed lists files skipped because they could not be parsed.
	Failed    []string `json:"failed,omitempty"`
	Rows      int      `json:"rows"`
	Warnings  int      `json:"warnings"`
	Watermark string   `json:"watermark"`
	Advanced  bool     `json:"advanced"`
	Swept     int      `json:"swept"`
	// More is set when the batch was capped and newer files remain.
	More    bool   `json:"more"`
	BatchID string `json:"batch_id,omitempty"`
}

// CycleResult describes one ingestion cycle of a project.
type CycleResult struct {
	Project    string            `json:"project"`
	Timeframes []TimeframeResult `json:"timeframes"`
}

// Files returns the number of committed files.
func (r CycleResult) Files() int {
	n := 0
	for _, tf := range r.Timeframes {
		n += tf.Files
	}
	return n
}

// Rows returns the number of committed rows.
func (r CycleResult) Rows() int {
	n := 0
	for _, tf := range r.Timeframes {
		n += tf.Rows
	}
	return n
}

// More reports whether any timeframe has files left over.
func (r CycleResult) More() bool {
	for _, tf := range r.Timeframes {
		if tf.More {
			return true
		}
	}
	return false
}

// Pipeline runs ingestion cycles: discover, parse, normalize, commit,
// sweep and announce.
type Pipeline struct {
	registry   *Registry
	normalizer *normalize.Normalizer
	sweeper    *snapshot.Sweeper
	publisher  queue.Publisher
	batchFiles int

	// reported holds unreadable files already logged and counted.
	reported dedupe.Deduper

	breakerFailures uint32
	breakerTimeout  time.Duration

	// locks serializes cycles per project so the store has one writer.
	locksMu  sync.Mutex
	locks    map[string]*sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[repository.CommitResult]

	log logger.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithBatchFiles caps how many files one timeframe commits per cycle.
func WithBatchFiles(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchFiles = n
		}
	}
}

// WithBreaker sets the consecutive commit failures that open a project's
// breaker and how long it stays open.
func WithBreaker(failures uint32, timeout time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if failures > 0 {
			p.breakerFailures = failures
		}
		if timeout > 0 {
			p.breakerTimeout = timeout
		}
	}
}

// WithPublisher announces committed batches on pub.
func WithPublisher(pub queue.Publisher) PipelineOption {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) PipelineOption {
	return func(p *Pipeline) {
		if n != nil {
			p.normalizer = n
		}
	}
}

// WithSweeper replaces the default sweeper.
func WithSweeper(s *snapshot.Sweeper) PipelineOption {
	return func(p *Pipeline) {
		if s != nil {
			p.sweeper = s
		}
	}
}

// WithReported replaces the set of unreadable files already reported.
func WithReported(d dedupe.Deduper) PipelineOption {
	return func(p *Pipeline) {
		if d != nil {
			p.reported = d
		}
	}
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPipeline creates a pipeline over the registry's projects.
func NewPipeline(r *Registry, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry:        r,
		batchFiles:      defaultBatchFiles,
		breakerFailures: defaultBreakerFailures,
		breakerTimeout:  defaultBreakerTimeout,
		locks:           make(map[string]*sync.Mutex),
		breakers:        make(map[string]*gobreaker.CircuitBreaker[repository.CommitResult]),
		reported:        dedupe.New(),
		log:             logger.Get().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.normalizer == nil {
		p.normalizer = normalize.New()
	}
	if p.sweeper == nil {
		p.sweeper = snapshot.NewSweeper(snapshot.WithLogger(p.log.Named("sweep")))
	}
	return p
}

// IngestAll runs one cycle for every registered project.
func (p *Pipeline) IngestAll(ctx context.Context) ([]CycleResult, error) {
	var (
		out  []CycleResult
		errs []error
	)
	for _, proj := range p.registry.Projects() {
		res, err := p.IngestOnce(ctx, proj.Name)
		out = append(out, res)
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return out, errors.Join(errs...)
}

// IngestOnce runs one cycle for a project. Timeframes are independent: a
// failure in one is joined into the error and the others still run, unless
// the store breaker is open or ctx ends.
func (p *Pipeline) IngestOnce(ctx context.Context, project string) (CycleResult, error) {
	res := CycleResult{Project: project}

	lock := p.lock(project)
	lock.Lock()
	defer lock.Unlock()

	proj, err := p.registry.Refresh(ctx, project)
	if err != nil && errors.Is(err, ErrUnknownProject) {
		return res, err
	}
	if err != nil {
		p.log.Warn(ctx, "timeframe rescan failed", logger.String("project", project), logger.Error(err))
	}
	_, store, err := p.registry.lookup(project)
	if err != nil {
		return res, err
	}
	parser, err := snapshot.NewParser(proj.Provider)
	if err != nil {
		return res, err
	}

	start := time.Now()
	var errs []error
	for _, tf := range proj.Timeframes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		tr, err := p.ingestTimeframe(ctx, proj, store, parser, tf)
		res.Timeframes = append(res.Timeframes, tr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", project, tf.Name, err))
			if errors.Is(err, ErrCircuitOpen) {
				break
			}
		}
	}
	metrics.RecordBatchDuration(project, float64(time.Since(start).Milliseconds()))
	return res, errors.Join(errs...)
}

func (p *Pipeline) ingestTimeframe(ctx context.Context, proj model.Project, store repository.Store, parser *snapshot.Parser, tf model.Timeframe) (TimeframeResult, error) {
	res := TimeframeResult{Timeframe: tf.Name}

	wm, err := store.Watermark(ctx, tf.Name)
	if err != nil {
		return res, err
	}
	res.Watermark = wm

	paths, err := snapshot.Discover(tf.Dir, wm)
	if err != nil {
		return res, err
	}
	if len(paths) == 0 {
		return res, nil
	}
	if len(paths) > p.batchFiles {
		paths = paths[:p.batchFiles]
		res.More = true
	}

	var (
		rows     []model.Row
		lastGood string
		keys     = make(map[string]struct{})
	)
	for i, path := range paths {
		// On shutdown the files parsed so far are still committed; the rest
		// wait for the next run.
		if ctx.Err() != nil {
			if i == 0 {
				return res, ctx.Err()
			}
			paths = paths[:i]
			res.More = true
			break
		}
		snap, err := parser.Parse(path)
		if err != nil {
			if !errors.Is(err, snapshot.ErrRecoverable) {
				return res, err
			}
			res.Failed = append(res.Failed, path)
			// A trailing unreadable file is retried every cycle; report it once.
			if p.reported.SeenAndRecord(ctx, path) {
				p.log.Debug(ctx, "still unreadable", logger.String("file", path))
				continue
			}
			p.log.Warn(ctx, "skipping unreadable snapshot",
				logger.String("project", proj.Name),
				logger.String("timeframe", tf.Name),
				logger.Error(err))
			metrics.RecordFileFailed(proj.Name, tf.Name)
			continue
		}
		p.reported.Unrecord(ctx, path)
		batch, warnings := p.normalizer.Normalize(proj.Provider, tf.Name, snap.Timestamp, snap.Entries)
		if len(warnings) > 0 {
			res.Warnings += len(warnings)
			p.log.Debug(ctx, "normalization warnings",
				logger.String("file", snap.Filename),
				logger.Int("count", len(warnings)),
				logger.String("first", warnings[0].String()))
		}
		for _, r := range batch {
			for k := range r.Extra {
				keys[k] = struct{}{}
			}
		}
		rows = append(rows, batch...)
		lastGood = snap.Filename
		res.Files++
	}

	// A file that fails to parse while newer files exist is corrupt for
	// good; one at the tail may still be being written and is retried.
	target := lastGood
	if res.More {
		target = filepath.Base(paths[len(paths)-1])
	}
	if target == "" {
		return res, nil
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	if len(keys) > 0 {
		p.promote(wctx, proj.Name, store, keys)
	}

	commit, err := p.breaker(proj.Name).Execute(func() (repository.CommitResult, error) {
		return store.Commit(wctx, repository.Batch{Timeframe: tf.Name, Rows: rows, Watermark: target})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return res, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		return res, err
	}
	res.Rows = commit.Rows
	res.Watermark = commit.Watermark
	res.Advanced = commit.Advanced

	for range res.Files {
		metrics.RecordFileIngested(proj.Name, tf.Name)
	}
	metrics.RecordRowsUpserted(proj.Name, tf.Name, res.Rows)
	if t, err := model.SnapshotTime(res.Watermark); err == nil {
		metrics.UpdateWatermark(proj.Name, tf.Name, t.Unix())
	}

	swept, err := p.sweeper.Sweep(ctx, tf.Dir, res.Watermark)
	if err != nil {
		p.log.Warn(ctx, "sweep failed", logger.String("dir", tf.Dir), logger.Error(err))
	}
	res.Swept = len(swept.Deleted)
	metrics.RecordSweep(proj.Name, len(swept.Deleted), len(swept.Failed))

	if res.Files > 0 {
		res.BatchID = p.announce(ctx, proj, res)
	}

	p.log.Info(ctx, "batch committed",
		logger.String("project", proj.Name),
		logger.String("timeframe", tf.Name),
		logger.String("batch_id", res.BatchID),
		logger.Int("files", res.Files),
		logger.Int("failed", len(res.Failed)),
		logger.Int("rows", res.Rows),
		logger.String("watermark", res.Watermark),
		logger.Int("swept", res.Swept))
	return res, nil
}

func (p *Pipeline) promote(ctx context.Context, project string, store repository.Store, keys map[string]struct{}) {
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	added, err := store.EnsureColumns(ctx, sorted)
	if len(added) > 0 {
		metrics.RecordSchemaColumnsAdded(project, len(added))
		p.log.Info(ctx, "extra columns added", logger.String("project", project), logger.Any("columns", added))
	}
	if err != nil {
		p.log.Warn(ctx, "extra fields kept in the extra payload only",
			logger.String("project", project), logger.Error(err))
	}
}

func (p *Pipeline) announce(ctx context.Context, proj model.Project, res TimeframeResult) string {
	id, err := gonanoid.New(batchIDSize)
	if err != nil {
		id = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	if p.publisher == nil {
		return id
	}
	e := queue.NewEvent(id, proj.Name, proj.Provider, res.Timeframe, res.Watermark, res.Files, res.Rows)
	if err := p.publisher.Publish(ctx, e); err != nil {
		p.log.Warn(ctx, "failed to announce batch", logger.String("batch_id", id), logger.Error(err))
	}
	return id
}

func (p *Pipeline) lock(project string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	l, ok := p.locks[project]
	if !ok {
		l = &sync.Mutex{}
		p.locks[project] = l
	}
	return l
}

func (p *Pipeline) breaker(project string) *gobreaker.CircuitBreaker[repository.CommitResult] {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	if cb, ok := p.breakers[project]; ok {
		return cb
	}
	failures := p.breakerFailures
	cb := gobreaker.NewCircuitBreaker[repository.CommitResult](gobreaker.Settings{
		Name:        project,
		MaxRequests: 1,
		Timeout:     p.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn(context.Background(), "store breaker state changed",
				logger.String("project", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
			metrics.UpdateBreakerState(name, int(to))
		},
	})
	p.breakers[project] = cb
	return cb
}

// BreakerState returns the store breaker state of a project.
func (p *Pipeline) BreakerState(project string) gobreaker.State {
	return p.breaker(project).State()
}
