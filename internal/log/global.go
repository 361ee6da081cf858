package log

import "sync/atomic"

var defaultLogger atomic.Pointer[Logger]

// SetDefaultLogger installs the process-wide logger. serve does this
// once at startup after parsing the logging config.
func SetDefaultLogger(logger *Logger) {
	defaultLogger.Store(logger)
}

// DefaultLogger returns the process-wide logger, lazily installing one
// with default settings if serve has not configured it yet. Components
// use this as a fallback when constructed without an explicit logger.
func DefaultLogger() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := Default()
	defaultLogger.CompareAndSwap(nil, l)
	return defaultLogger.Load()
}
