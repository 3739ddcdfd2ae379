package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

// Logger defines the stockroom logging contract.
// Implementations should support standard log levels and be safe for concurrent use.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Level orders log severities from most to least verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger wraps Go's standard logger and drops messages below its level.
type StdLogger struct {
	logger *log.Logger
	level  Level
}

// NewStdLogger creates a StdLogger writing every level to stdout.
func NewStdLogger() *StdLogger {
	return NewLeveled(os.Stdout, LevelDebug)
}

// NewLeveled creates a StdLogger writing to w that drops messages below level.
func NewLeveled(w io.Writer, level Level) *StdLogger {
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

func (l *StdLogger) Info(msg string, args ...any) {
	l.printf(LevelInfo, "[INFO] ", msg, args...)
}

func (l *StdLogger) Warn(msg string, args ...any) {
	l.printf(LevelWarn, "[WARN] ", msg, args...)
}

func (l *StdLogger) Error(msg string, args ...any) {
	l.printf(LevelError, "[ERROR] ", msg, args...)
}

func (l *StdLogger) Debug(msg string, args ...any) {
	l.printf(LevelDebug, "[DEBUG] ", msg, args...)
}

func (l *StdLogger) printf(level Level, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.logger.Printf(prefix+msg, args...)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}

// Nop discards everything. Tests use it to keep output quiet.
var Nop Logger = nopLogger{}

// Default provides a global default logger instance using Go's standard logger.
var Default Logger = NewStdLogger()

// OrDefault returns l, or Default when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default
	}
	return l
}
