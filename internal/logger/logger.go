// Package logger is the process-wide slog logger with printf helpers.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	level  slog.LevelVar
	active atomic.Pointer[slog.Logger]

	// mu guards out and jsonOut, the inputs of the active handler.
	mu      sync.Mutex
	out     io.Writer = os.Stdout
	jsonOut bool
)

func init() {
	rebuild()
}

// rebuild swaps the active logger; callers hold mu or run before main.
func rebuild() {
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler = slog.NewTextHandler(out, opts)
	if jsonOut {
		h = slog.NewJSONHandler(out, opts)
	}
	active.Store(slog.New(h))
}

// SetOutput sends logs to every non-nil writer, stdout when none is given.
func SetOutput(writers ...io.Writer) {
	targets := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			targets = append(targets, w)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	switch len(targets) {
	case 0:
		out = os.Stdout
	case 1:
		out = targets[0]
	default:
		out = io.MultiWriter(targets...)
	}
	rebuild()
}

// SetFormat switches between "text" (default) and "json" records.
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()
	jsonOut = strings.EqualFold(strings.TrimSpace(format), "json")
	rebuild()
}

// SetLevel accepts debug, info, warn (or warning) and error. Anything else
// resets to info.
func SetLevel(name string) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		l = slog.LevelInfo
	}
	level.Set(l)
}

// Enabled reports whether records at l would be written.
func Enabled(l slog.Level) bool {
	return l >= level.Level()
}

// Logger returns the underlying slog logger for structured attributes.
func Logger() *slog.Logger {
	return active.Load()
}

func logf(l slog.Level, format string, v []any) {
	if !Enabled(l) {
		return
	}
	active.Load().Log(context.Background(), l, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v) }

func Infof(format string, v ...any) { logf(slog.LevelInfo, format, v) }

func Warnf(format string, v ...any) { logf(slog.LevelWarn, format, v) }

func Errorf(format string, v ...any) { logf(slog.LevelError, format, v) }

// InfoBlock logs a multi-line report one line per record.
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if line != "" {
			Infof("%s", line)
		}
	}
}
