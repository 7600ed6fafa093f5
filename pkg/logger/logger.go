package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel maps a level name to a Level
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level: %s", s)
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithAction(actionID string, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithAction(actionID string, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithAction(actionID string, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithAction(actionID string, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                      {}
func (l *EmptyLogger) InfoWithAction(_ string, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                     {}
func (l *EmptyLogger) ErrorWithAction(_ string, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                     {}
func (l *EmptyLogger) DebugWithAction(_ string, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                    {}
func (l *EmptyLogger) NoticeWithAction(_ string, _ string, _ ...interface{}) {}

// ZeroLogger writes through zerolog. Notice is emitted at zerolog's warn level.
type ZeroLogger struct {
	log zerolog.Logger
}

var _ Logger = (*ZeroLogger)(nil)

// NewZeroLogger creates a console logger on stderr, or a JSON logger when json is set
func NewZeroLogger(enableColoring bool, level Level, json bool) *ZeroLogger {
	var out io.Writer = os.Stderr
	if !json {
		out = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: !enableColoring, TimeFormat: time.RFC3339}
	}
	return NewZeroLoggerWithWriter(out, level)
}

// NewZeroLoggerWithWriter creates a logger writing to w
func NewZeroLoggerWithWriter(w io.Writer, level Level) *ZeroLogger {
	return &ZeroLogger{
		log: zerolog.New(zerolog.SyncWriter(w)).Level(zerologLevel(level)).With().Timestamp().Logger(),
	}
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case NoticeLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *ZeroLogger) event(level Level, actionID string) *zerolog.Event {
	e := l.log.WithLevel(zerologLevel(level))
	if e != nil && actionID != "" {
		e = e.Str("action", actionID)
	}
	return e
}

func (l *ZeroLogger) Info(format string, args ...interface{}) {
	l.event(InfoLevel, "").Msgf(format, args...)
}

func (l *ZeroLogger) InfoWithAction(actionID string, format string, args ...interface{}) {
	l.event(InfoLevel, actionID).Msgf(format, args...)
}

func (l *ZeroLogger) Error(format string, args ...interface{}) {
	l.event(ErrorLevel, "").Msgf(format, args...)
}

func (l *ZeroLogger) ErrorWithAction(actionID string, format string, args ...interface{}) {
	l.event(ErrorLevel, actionID).Msgf(format, args...)
}

func (l *ZeroLogger) Debug(format string, args ...interface{}) {
	l.event(DebugLevel, "").Msgf(format, args...)
}

func (l *ZeroLogger) DebugWithAction(actionID string, format string, args ...interface{}) {
	l.event(DebugLevel, actionID).Msgf(format, args...)
}

func (l *ZeroLogger) Notice(format string, args ...interface{}) {
	l.event(NoticeLevel, "").Msgf(format, args...)
}

func (l *ZeroLogger) NoticeWithAction(actionID string, format string, args ...interface{}) {
	l.event(NoticeLevel, actionID).Msgf(format, args...)
}
