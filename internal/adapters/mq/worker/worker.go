// Package worker consumes ingestion events and hands them to a handler.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

// Event abstracts what workers read off the bus.
type Event = queue.Event

// Handler reacts to one ingestion event.
type Handler interface {
	HandleIngested(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e Event) error

// HandleIngested calls f.
func (f HandlerFunc) HandleIngested(ctx context.Context, e Event) error { return f(ctx, e) }

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the event in flight.
	Shutdown(ctx context.Context) error
}

// EventWorker implements Worker for ingestion events.
type EventWorker struct {
	queue   Queue
	handler Handler
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewEventWorker creates a new worker with configuration options.
func NewEventWorker(q Queue, h Handler, opts ...Option) *EventWorker {
	w := &EventWorker{
		queue:    q,
		handler:  h,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *EventWorker) Run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := w.process(ctx, e); err != nil {
				w.logger.Error(ctx, "error processing event", logger.Error(err))
			}
		}
	}
}

// Serve runs the worker under a supervisor.
func (w *EventWorker) Serve(ctx context.Context) error {
	w.Run(ctx)
	return ctx.Err()
}

func (w *EventWorker) String() string { return w.name }

// Shutdown gracefully stops the worker.
func (w *EventWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *EventWorker) process(ctx context.Context, e Event) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			metrics.RecordErrorByComponent("worker", "handler_error")
		}
		w.logger.Debug(ctx, "event handled",
			logger.String("batch_id", e.BatchID),
			logger.String("project", e.Project),
			logger.Duration("took", time.Since(start)))
	}()

	if err := w.handler.HandleIngested(ctx, e); err != nil {
		return fmt.Errorf("handle batch %s of %s: %w", e.BatchID, e.Project, err)
	}
	return nil
}
