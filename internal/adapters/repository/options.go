package repository

import (
	"time"

	"github.com/okian/mindshare/pkg/logger"
)

// Defaults applied by Open and OpenGlobal.
const (
	DefaultBusyTimeout     = 30 * time.Second
	DefaultMaxExtraColumns = 64
	DefaultMaxOpenConns    = 8
	DefaultHistoryPoints   = 500
)

// Option configures a store.
type Option func(*options)

type options struct {
	busyTimeout     time.Duration
	maxExtraColumns int
	maxOpenConns    int
	historyPoints   int
	logger          logger.Logger
}

func defaultOptions() *options {
	return &options{
		busyTimeout:     DefaultBusyTimeout,
		maxExtraColumns: DefaultMaxExtraColumns,
		maxOpenConns:    DefaultMaxOpenConns,
		historyPoints:   DefaultHistoryPoints,
		logger:          logger.Get(),
	}
}

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxExtraColumns caps the number of x_ columns added for extra fields.
// Zero disables column promotion.
func WithMaxExtraColumns(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxExtraColumns = n
		}
	}
}

// WithMaxOpenConns sets the connection pool size.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// WithHistoryPoints sets the default bound for History.
func WithHistoryPoints(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.historyPoints = n
		}
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
