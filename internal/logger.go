package internal

import (
	"log/slog"
	"sync/atomic"
)

var customLogger atomic.Pointer[slog.Logger]

// SetLogger overrides the package logger.
//
// If not set (or set to nil), slog.Default() is used at every call, so a
// later slog.SetDefault in main is honoured.
func SetLogger(l *slog.Logger) {
	customLogger.Store(l)
}

func logger() *slog.Logger {
	if l := customLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}
