package log

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

// Levels beyond slog's four.
const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

var levels = []struct {
	level slog.Level
	name  string
}{
	{LevelTrace, "trace"},
	{LevelDebug, "debug"},
	{LevelInfo, "info"},
	{LevelWarn, "warn"},
	{LevelError, "error"},
	{LevelCrit, "crit"},
}

// LevelString is the lower case name of l, "unknown" for other levels.
func LevelString(l slog.Level) string {
	for _, e := range levels {
		if e.level == l {
			return e.name
		}
	}
	return "unknown"
}

// LevelAlignedString is the upper case name of l padded to five characters.
func LevelAlignedString(l slog.Level) string {
	s := LevelString(l)
	if s == "unknown" {
		return "unknown level"
	}
	return strings.ToUpper(s + strings.Repeat(" ", 5-len(s)))
}

// Logger writes module tagged key/value records. Methods other than Write
// take the module name first; records of a disabled module are dropped by
// the package level helpers, not by the Logger itself.
type Logger interface {
	With(ctx ...interface{}) Logger
	Trace(module string, msg string, ctx ...interface{})
	Debug(module string, msg string, ctx ...interface{})
	Info(module string, msg string, ctx ...interface{})
	Warn(module string, msg string, ctx ...interface{})
	Error(module string, msg string, ctx ...interface{})
	// Crit logs at the critical level. It does not exit; callers return
	// the error that caused it.
	Crit(module string, msg string, ctx ...interface{})
	Write(level slog.Level, module string, msg string, attrs ...any)
	Enabled(ctx context.Context, level slog.Level) bool
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

// NewTerminalHandlerWithLevel returns a text handler writing records at or
// above lvl, with trace and crit printed by name.
func NewTerminalHandlerWithLevel(w io.Writer, lvl slog.Level, withSource bool) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: withSource,
		Level:     lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 || a.Key != slog.LevelKey {
				return a
			}
			if l, ok := a.Value.Any().(slog.Level); ok {
				a.Value = slog.StringValue(LevelAlignedString(l))
			}
			return a
		},
	})
}

func DiscardHandler() slog.Handler {
	return slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelCrit + 1})
}

func (l *logger) Handler() slog.Handler { return l.inner.Handler() }

func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

func (l *logger) With(ctx ...interface{}) Logger {
	return &logger{l.inner.With(ctx...)}
}

// Write emits one record. The source position is the caller of the
// package helper or Logger method, three frames up.
func (l *logger) Write(level slog.Level, module string, msg string, attrs ...any) {
	ctx := context.Background()
	if !l.inner.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	if module != "" {
		r.AddAttrs(slog.String("module", module))
	}
	r.Add(attrs...)
	_ = l.inner.Handler().Handle(ctx, r)
}

func (l *logger) Trace(module string, msg string, ctx ...interface{}) {
	l.Write(LevelTrace, module, msg, ctx...)
}

func (l *logger) Debug(module string, msg string, ctx ...interface{}) {
	l.Write(LevelDebug, module, msg, ctx...)
}

func (l *logger) Info(module string, msg string, ctx ...interface{}) {
	l.Write(LevelInfo, module, msg, ctx...)
}

func (l *logger) Warn(module string, msg string, ctx ...interface{}) {
	l.Write(LevelWarn, module, msg, ctx...)
}

func (l *logger) Error(module string, msg string, ctx ...interface{}) {
	l.Write(LevelError, module, msg, ctx...)
}

func (l *logger) Crit(module string, msg string, ctx ...interface{}) {
	l.Write(LevelCrit, module, msg, ctx...)
}
