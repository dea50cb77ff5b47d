// Package xlog wraps log/slog with the trace-level logging convention
// used throughout this module: a LevelTrace below slog.LevelDebug for
// per-segment wire traces that are too noisy for ordinary debug output.
package xlog

import (
	"context"
	"log/slog"
)

// LevelTrace sits two steps below slog.LevelDebug, reserved for
// per-segment tracing (sequence numbers, flags, window).
const LevelTrace slog.Level = slog.LevelDebug - 2

// Logger wraps a *slog.Logger in its Log field, which may be nil: every method on Logger
// is a no-op when the embedded logger is nil, so a zero Logger is usable
// without configuration.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) enabled(lvl slog.Level) bool {
	return l.Log != nil && l.Log.Handler().Enabled(context.Background(), lvl)
}

func (l Logger) logAttrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	if l.Log == nil {
		return
	}
	if !l.Log.Handler().Enabled(context.Background(), lvl) {
		return
	}
	l.Log.LogAttrs(context.Background(), lvl, msg, attrs...)
}

// Trace logs at LevelTrace.
func (l Logger) Trace(msg string, attrs ...slog.Attr) { l.logAttrs(LevelTrace, msg, attrs...) }

// Debug logs at slog.LevelDebug.
func (l Logger) Debug(msg string, attrs ...slog.Attr) { l.logAttrs(slog.LevelDebug, msg, attrs...) }

// Info logs at slog.LevelInfo.
func (l Logger) Info(msg string, attrs ...slog.Attr) { l.logAttrs(slog.LevelInfo, msg, attrs...) }

// Error logs at slog.LevelError.
func (l Logger) Error(msg string, attrs ...slog.Attr) { l.logAttrs(slog.LevelError, msg, attrs...) }

// TraceEnabled reports whether trace-level output would actually be
// emitted, letting callers skip building attrs for a disabled level.
func (l Logger) TraceEnabled() bool { return l.enabled(LevelTrace) }
