package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const defaultRollupInterval = time.Hour

// Roller publishes one rollup.
type Roller interface {
	Rollup(ctx context.Context) (RollupResult, error)
}

// Trigger decides when rollups run: once at start, on every interval tick,
// and after ingestion events at most once per cooldown. Concurrent requests
// share one run.
type Trigger struct {
	roller   Roller
	interval time.Duration
	limiter  *rate.Limiter
	group    singleflight.Group

	pending atomic.Bool
	wg      sync.WaitGroup
	log     logger.Logger
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithSchedule sets the periodic interval and the event cooldown. A zero
// cooldown lets every event trigger a run.
func WithSchedule(interval, cooldown time.Duration) TriggerOption {
	return func(t *Trigger) {
		if interval > 0 {
			t.interval = interval
		}
		if cooldown > 0 {
			t.limiter = rate.NewLimiter(rate.Every(cooldown), 1)
		} else {
			t.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
}

// WithTriggerLogger sets the trigger logger.
func WithTriggerLogger(l logger.Logger) TriggerOption {
	return func(t *Trigger) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTrigger creates a trigger around r.
func NewTrigger(r Roller, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		roller:   r,
		interval: defaultRollupInterval,
		limiter:  rate.NewLimiter(rate.Every(5*time.Minute), 1),
		log:      logger.Get().Named("rollup-trigger"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run performs a rollup now. Calls made while one is running wait for it
// and share its result.
func (t *Trigger) Run(ctx context.Context, trigger string) (RollupResult, error) {
	v, err, shared := t.group.Do("rollup", func() (any, error) {
		start := time.Now()
		res, err := t.roller.Rollup(ctx)
		outcome := metrics.OutcomeOK
		var partial *RollupPartialError
		switch {
		case errors.As(err, &partial):
			outcome = metrics.OutcomePartial
		case err != nil:
			outcome = metrics.OutcomeFailed
		}
		metrics.RecordRollup(trigger, outcome, float64(time.Since(start).Milliseconds()))
		return res, err
	})
	if shared {
		t.log.Debug(ctx, "rollup request joined a running rollup", logger.String("trigger", trigger))
	}
	res, _ := v.(RollupResult)
	return res, err
}

// HandleIngested reacts to a committed batch. Within the cooldown the run is
// deferred until the limiter allows it; further events meanwhile fold into
// that deferred run.
func (t *Trigger) HandleIngested(ctx context.Context, e queue.Event) error {
	if t.limiter.Allow() {
		return t.report(ctx, e, metrics.TriggerEvent)
	}
	if !t.pending.CompareAndSwap(false, true) {
		metrics.RecordRollup(metrics.TriggerEvent, metrics.OutcomeSkipped, 0)
		return nil
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.pending.Store(false)
		if err := t.limiter.Wait(ctx); err != nil {
			return
		}
		if err := t.report(ctx, e, metrics.TriggerEvent); err != nil {
			t.log.Error(ctx, "deferred rollup failed", logger.Error(err))
		}
	}()
	return nil
}

func (t *Trigger) report(ctx context.Context, e queue.Event, trigger string) error {
	res, err := t.Run(ctx, trigger)
	var partial *RollupPartialError
	if errors.As(err, &partial) {
		t.log.Warn(ctx, "rollup published without some projects",
			logger.Any("failed", partial.Projects()))
		err = nil
	}
	if err != nil {
		return err
	}
	t.log.Info(ctx, "rollup published",
		logger.String("trigger", trigger),
		logger.String("batch_id", e.BatchID),
		logger.Int("identities", res.Stats.Identities),
		logger.Int("rankings", res.Stats.Rankings),
		logger.Int("stale", res.Stats.Stale),
		logger.Duration("took", res.Took))
	return nil
}

// Serve runs the startup rollup and then one per interval until ctx ends.
func (t *Trigger) Serve(ctx context.Context) error {
	defer t.wg.Wait()

	if err := t.report(ctx, queue.Event{}, metrics.TriggerStartup); err != nil {
		t.log.Error(ctx, "startup rollup failed", logger.Error(err))
	}
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := t.report(ctx, queue.Event{}, metrics.TriggerSchedule); err != nil {
				t.log.Error(ctx, "scheduled rollup failed", logger.Error(err))
			}
		}
	}
}

func (t *Trigger) String() string { return "rollup-trigger" }
