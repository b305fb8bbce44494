// Package logging provides the structured logger used across dataview.
package logging

import (
	"fmt"

	"github.com/kataras/golog"
)

// Level mirrors golog's level set without leaking the dependency into
// call sites that only need to pick a verbosity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

func (l Level) gologName() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "disable"
	}
}

// Logger is the interface every dataview component depends on. Library
// code never calls golog directly so tests can inject a no-op logger.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
	SetLevel(Level)
	With(component string) Logger
}

// gologLogger implements Logger using kataras/golog, following the same
// level-gated forwarding shape as langgraphgo's GologLogger wrapper.
type gologLogger struct {
	logger *golog.Logger
	prefix string
	level  Level
}

var _ Logger = (*gologLogger)(nil)

// New creates a Logger backed by a fresh golog.Logger prefixed with the
// given component name.
func New(component string) Logger {
	l := golog.New()
	l.SetPrefix("[" + component + "] ")
	return &gologLogger{logger: l, prefix: component, level: LevelInfo}
}

// NewFrom wraps an existing golog.Logger, for callers that already manage
// a shared golog instance (e.g. one configured at process startup).
func NewFrom(l *golog.Logger) Logger {
	return &gologLogger{logger: l, level: LevelInfo}
}

func (l *gologLogger) Debug(format string, v ...any) {
	if l.level <= LevelDebug {
		args := append([]any{format}, v...)
		l.logger.Debug(args...)
	}
}

func (l *gologLogger) Info(format string, v ...any) {
	if l.level <= LevelInfo {
		args := append([]any{format}, v...)
		l.logger.Info(args...)
	}
}

func (l *gologLogger) Warn(format string, v ...any) {
	if l.level <= LevelWarn {
		args := append([]any{format}, v...)
		l.logger.Warn(args...)
	}
}

func (l *gologLogger) Error(format string, v ...any) {
	if l.level <= LevelError {
		args := append([]any{format}, v...)
		l.logger.Error(args...)
	}
}

func (l *gologLogger) SetLevel(level Level) {
	l.level = level
	l.logger.SetLevel(level.gologName())
}

// With returns a derived logger scoped to a sub-component, nesting the
// prefix so a component's log lines read "[parent.child] ..." without
// losing which top-level subsystem they came from.
func (l *gologLogger) With(component string) Logger {
	nested := golog.New()
	name := component
	if l.prefix != "" {
		name = fmt.Sprintf("%s.%s", l.prefix, component)
	}
	nested.SetPrefix("[" + name + "] ")
	child := &gologLogger{logger: nested, prefix: name, level: l.level}
	return child
}

// Noop returns a Logger that discards everything, for tests that don't
// care about log output.
func Noop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Debug(string, ...any)    {}
func (noopLogger) Info(string, ...any)     {}
func (noopLogger) Warn(string, ...any)     {}
func (noopLogger) Error(string, ...any)    {}
func (noopLogger) SetLevel(Level)          {}
func (noopLogger) With(string) Logger      { return noopLogger{} }
