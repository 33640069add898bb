package shared

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/sqledger/sqledger"
)

type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// LogAdapter exposes a charmbracelet logger through the engine's [sqledger.Logger]
// interface so that engine messages and CLI messages come out of the same
// pipe, in the same format.
type LogAdapter struct {
	*log.Logger
}

func (l LogAdapter) Log(_ context.Context, level sqledger.LogLevel, msg string, fields ...sqledger.LogField) {
	args := make([]any, 0, 2*len(fields))
	for _, field := range fields {
		args = append(args, field.Key, field.Value)
	}
	switch level {
	case sqledger.LogLevelDebug:
		l.Logger.Debug(msg, args...)
	case sqledger.LogLevelInfo:
		l.Logger.Info(msg, args...)
	case sqledger.LogLevelWarning:
		l.Logger.Warn(msg, args...)
	case sqledger.LogLevelError:
		l.Logger.Error(msg, args...)
	}
}
