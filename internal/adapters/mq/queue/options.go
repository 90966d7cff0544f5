package queue

import "github.com/okian/mindshare/pkg/logger"

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber output buffer.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithTopic overrides the topic events are published on.
func WithTopic(topic string) Option {
	return func(b *Bus) {
		if topic != "" {
			b.topic = topic
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}
