package logger

import "sync/atomic"

// defLogger is the process-wide default handed to components that are not
// given an explicit logger.
var defLogger atomic.Pointer[Logger]

func init() {
	l := NewSlog(InfoLevel, false)
	defLogger.Store(&l)
}

// GetLogger returns the process-wide default logger.
func GetLogger() Logger {
	return *defLogger.Load()
}

// SetDefault replaces the process-wide default logger. Components that
// captured the previous default keep it; components created afterwards pick
// up l. A nil l is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defLogger.Store(&l)
}

// SetLevel adjusts the level of the current default logger.
func SetLevel(level Level) {
	GetLogger().SetLevel(level)
}
