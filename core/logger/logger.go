// Package logger declares the logging contract every component receives by
// injection. Implementations live in infra/logger.
package logger

// Logger exposes leveled, printf-style logging.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	// Warnw logs a warning with structured fields.
	Warnw(msg string, fields map[string]any)
	Errorf(format string, args ...any)
}
