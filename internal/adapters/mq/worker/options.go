package worker

import (
	"github.com/okian/mindshare/pkg/logger"
)

// Option applies a configuration option to the EventWorker.
type Option func(*EventWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *EventWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *EventWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}
