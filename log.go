package gpudisplay

import (
	"log/slog"

	"deedles.dev/gpudisplay/internal/debug"
)

// SetLogger sets the logger used by the package and by the native
// Wayland layer. By default nothing is logged unless $WAYLAND_DEBUG is
// set to a positive number. Passing nil restores the default silence.
func SetLogger(l *slog.Logger) {
	debug.SetLogger(l)
}

// Logger returns the logger currently in use.
func Logger() *slog.Logger {
	return debug.Logger()
}
