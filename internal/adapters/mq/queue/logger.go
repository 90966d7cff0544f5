package queue

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/okian/mindshare/pkg/logger"
)

// LoggerAdapter routes watermill logs through the application logger.
// Trace entries are logged at debug level.
type LoggerAdapter struct {
	log    logger.Logger
	fields watermill.LogFields
}

var _ watermill.LoggerAdapter = (*LoggerAdapter)(nil)

// NewLoggerAdapter wraps l.
func NewLoggerAdapter(l logger.Logger) *LoggerAdapter {
	return &LoggerAdapter{log: l}
}

func (a *LoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(context.Background(), msg, append(a.convert(fields), logger.Error(err))...)
}

func (a *LoggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(context.Background(), msg, a.convert(fields)...)
}

func (a *LoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(context.Background(), msg, a.convert(fields)...)
}

func (a *LoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(context.Background(), msg, a.convert(fields)...)
}

func (a *LoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &LoggerAdapter{log: a.log, fields: a.fields.Add(fields)}
}

func (a *LoggerAdapter) convert(fields watermill.LogFields) []logger.Field {
	all := a.fields.Add(fields)
	out := make([]logger.Field, 0, len(all))
	for k, v := range all {
		out = append(out, logger.Any(k, v))
	}
	return out
}
