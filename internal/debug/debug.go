// Package debug holds the logger shared by every package in the
// module. It is silent unless $WAYLAND_DEBUG is set to a positive
// number or a logger is installed with SetLogger.
package debug

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so that
// callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(fromEnv(os.Getenv("WAYLAND_DEBUG")))
}

func fromEnv(v string) *slog.Logger {
	level, err := strconv.ParseInt(v, 10, 0)
	if (err != nil) || (level <= 0) {
		return slog.New(nopHandler{})
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// SetLogger replaces the logger. A nil logger restores silence.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	logger.Store(l)
}

func Logger() *slog.Logger {
	return logger.Load()
}

// Printf logs wire traffic at debug level, in the same spirit as
// libwayland's WAYLAND_DEBUG output.
func Printf(str string, args ...any) {
	l := Logger()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(fmt.Sprintf(str, args...))
}
