package snapshot

import "github.com/okian/mindshare/pkg/logger"

// Option configures snapshot components.
type Option func(*options)

type options struct {
	logger logger.Logger
	remove func(string) error
}

func defaultOptions() *options {
	return &options{
		logger: logger.Get(),
		remove: defaultRemove,
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRemoveFunc replaces the file removal call.
func WithRemoveFunc(fn func(string) error) Option {
	return func(o *options) {
		if fn != nil {
			o.remove = fn
		}
	}
}
