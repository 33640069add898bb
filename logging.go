package sqledger

import "context"

// LogLevel represents the severity of a log message, and is one of
//   - [LogLevelDebug]
//   - [LogLevelInfo]
//   - [LogLevelWarning]
//   - [LogLevelError]
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogField holds a key/value pair for structured logging.
type LogField struct {
	Key   string
	Value any
}

// Logger is a generic logging interface so that sqledger can write through
// whatever structured logging solution the host application already uses --
// adapters are typically just a few lines.
type Logger interface {
	Log(context.Context, LogLevel, string, ...LogField)
}

// Helper is an optional interface that a logger can implement to keep
// stacktraces readable, primarily in tests. If a [Logger] implements it,
// sqledger calls Helper() inside its own logging helpers so that those
// helpers are omitted from the caller's stacktraces.
//
// The [TestLogger] gets this for free from its embedded [testing.T]. You do
// not need to implement this interface for your logger to work.
type Helper interface {
	Helper()
}
