package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

// LoaderState is the lifecycle state of a Loader.
type LoaderState int32

// Loader states.
const (
	StateInitializing LoaderState = iota
	StateLoading
	StateIdle
	StateStopped
)

func (s LoaderState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateLoading:
		return "LOADING"
	case StateIdle:
		return "IDLE"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("LoaderState(%d)", int32(s))
	}
}

const (
	defaultLoaderInterval = 30 * time.Second
	defaultLoaderJitter   = 0.2
	defaultMaxBackoff     = 5 * time.Minute
)

// Ingester runs one ingestion cycle for a project.
type Ingester interface {
	IngestOnce(ctx context.Context, project string) (CycleResult, error)
}

// Loader keeps one project ingested. It runs a cycle, sleeps for the
// jittered interval and repeats until its context ends. Failed cycles back
// off exponentially; a capped batch is followed by the next cycle at once.
type Loader struct {
	project    string
	ingester   Ingester
	interval   time.Duration
	jitter     float64
	maxBackoff time.Duration

	state  atomic.Int32
	cycles atomic.Int64
	log    logger.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithInterval sets the idle interval and its relative jitter.
func WithInterval(d time.Duration, jitter float64) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.interval = d
		}
		if jitter >= 0 && jitter < 1 {
			l.jitter = jitter
		}
	}
}

// WithMaxBackoff caps the delay after repeated failures.
func WithMaxBackoff(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.maxBackoff = d
		}
	}
}

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(lg logger.Logger) LoaderOption {
	return func(l *Loader) {
		if lg != nil {
			l.log = lg
		}
	}
}

// NewLoader creates a loader for project.
func NewLoader(project string, ing Ingester, opts ...LoaderOption) *Loader {
	l := &Loader{
		project:    project,
		ingester:   ing,
		interval:   defaultLoaderInterval,
		jitter:     defaultLoaderJitter,
		maxBackoff: defaultMaxBackoff,
		log:        logger.Get().Named("loader").Named(project),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.setState(StateInitializing)
	return l
}

// State returns the current state.
func (l *Loader) State() LoaderState { return LoaderState(l.state.Load()) }

// Cycles returns the number of cycles run.
func (l *Loader) Cycles() int64 { return l.cycles.Load() }

func (l *Loader) setState(s LoaderState) {
	l.state.Store(int32(s))
	metrics.UpdateLoaderState(l.project, int(s))
}

func (l *Loader) String() string { return "loader:" + l.project }

// Serve runs cycles until ctx ends.
func (l *Loader) Serve(ctx context.Context) error {
	defer l.setState(StateStopped)

	idle := l.newBackOff(l.interval, 1)
	failing := l.newBackOff(l.interval, 2)
	failing.MaxInterval = l.maxBackoff

	for {
		l.setState(StateLoading)
		res, err := l.cycle(ctx)
		l.cycles.Add(1)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var wait time.Duration
		switch {
		case err != nil:
			wait = failing.NextBackOff()
			outcome := metrics.OutcomeFailed
			if errors.Is(err, ErrCircuitOpen) {
				outcome = metrics.OutcomeSkipped
			}
			metrics.RecordLoaderCycle(l.project, outcome)
			l.log.Error(ctx, "ingestion cycle failed",
				logger.Error(err),
				logger.Duration("retry_in", wait))
		case res.More():
			failing.Reset()
			metrics.RecordLoaderCycle(l.project, metrics.OutcomeOK)
		default:
			failing.Reset()
			wait = idle.NextBackOff()
			metrics.RecordLoaderCycle(l.project, metrics.OutcomeOK)
		}

		l.setState(StateIdle)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Loader) cycle(ctx context.Context) (res CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
			l.log.Error(ctx, "recovered from panic in ingestion cycle",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			metrics.RecordErrorByComponent("loader", "panic")
		}
	}()
	return l.ingester.IngestOnce(ctx, l.project)
}

// newBackOff returns a never-stopping backoff starting at initial. A
// multiplier of 1 yields the jittered constant interval.
func (l *Loader) newBackOff(initial time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = l.jitter
	b.Multiplier = multiplier
	b.MaxInterval = initial
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
