// Package logging wraps zerolog with subsystem-scoped child loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog to provide subsystem-scoped child loggers.
type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger writing to the given writer at the specified level.
// If w is nil, defaults to pretty console output on stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	zl = zl.Level(parseLevel(level))
	return &Logger{zl: zl}
}

// Options selects where and how a root logger writes.
type Options struct {
	Level string
	Style string // "pretty" | "json"
	File  string // optional; appended to in addition to stderr
}

// Open builds a root logger from opts. The returned closer releases the log
// file, if any, and is never nil.
func Open(opts Options) (*Logger, io.Closer, error) {
	var console io.Writer = os.Stderr
	if opts.Style != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if opts.File == "" {
		return New(console, opts.Level), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return New(zerolog.MultiLevelWriter(console, f), opts.Level), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Sub returns a child logger tagged with a subsystem name.
func (l *Logger) Sub(subsystem string) *Logger {
	return &Logger{zl: l.zl.With().Str("subsystem", subsystem).Logger()}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Debug logs at debug level.
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

// Info logs at info level.
func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// Warn logs at warn level.
func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

// Error logs at error level.
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Zerolog returns the underlying zerolog.Logger for advanced use.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// ValidLevels lists the accepted level names.
var ValidLevels = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "silent":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
