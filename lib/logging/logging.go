// Package logging holds the process-wide log verbosity for tonpool.
//
// Verbosity uses the lite-client scale: 0 fatal, 1 error, 2 warning, 3 info,
// 4 debug, 5 and above trace. It is a single process-scoped handle: every
// logger built with NewLogger, and every pool in the process, observes the
// same level. Set it before relying on log volume elsewhere; loggers created
// earlier pick up later changes, but messages emitted before the change are
// already gone.
package logging

import (
	"io"
	"log/slog"
	"sync/atomic"
)

// Verbosity levels on the lite-client scale.
const (
	VerbosityFatal   uint32 = 0
	VerbosityError   uint32 = 1
	VerbosityWarning uint32 = 2
	VerbosityInfo    uint32 = 3
	VerbosityDebug   uint32 = 4
	VerbosityTrace   uint32 = 5
)

// LevelTrace sits below slog.LevelDebug for wire-level chatter.
const LevelTrace = slog.Level(-8)

var (
	level     = new(slog.LevelVar)
	verbosity atomic.Uint32
)

func init() {
	SetVerbosityLevel(VerbosityInfo)
}

// SetVerbosityLevel sets the process-wide verbosity.
func SetVerbosityLevel(v uint32) {
	verbosity.Store(v)
	level.Set(toSlogLevel(v))
}

// VerbosityLevel returns the current process-wide verbosity.
func VerbosityLevel() uint32 {
	return verbosity.Load()
}

// Level returns the shared leveler backing every logger from NewLogger.
func Level() slog.Leveler {
	return level
}

func toSlogLevel(v uint32) slog.Level {
	switch {
	case v == VerbosityFatal:
		// Only errors severe enough to abort get through.
		return slog.LevelError + 4
	case v == VerbosityError:
		return slog.LevelError
	case v == VerbosityWarning:
		return slog.LevelWarn
	case v == VerbosityInfo:
		return slog.LevelInfo
	case v == VerbosityDebug:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// NewLogger returns a slog.Logger writing to w whose level follows the
// process-wide verbosity. format is "json" or "text".
func NewLogger(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
