package logger

import corelogger "github.com/kilianp07/mes/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Warnw(string, map[string]any)  {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger tagged with the given component. Output format and
// level come from APP_ENV and LOG_LEVEL.
func New(component string) Logger {
	return NewZerologLogger(component)
}
