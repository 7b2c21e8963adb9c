package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Entry carries fixed attributes (component, trace id) into every line.
type Entry struct {
	attrs []any
}

// With returns an Entry that prefixes each record with the given key/value pairs.
func With(kv ...any) *Entry {
	return &Entry{attrs: kv}
}

func (e *Entry) log(level slog.Level, format string, v ...any) {
	l := activeLogger()
	if e != nil && len(e.attrs) > 0 {
		l = l.With(e.attrs...)
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func (e *Entry) Debugf(format string, v ...any) { e.log(slog.LevelDebug, format, v...) }
func (e *Entry) Infof(format string, v ...any)  { e.log(slog.LevelInfo, format, v...) }
func (e *Entry) Warnf(format string, v ...any)  { e.log(slog.LevelWarn, format, v...) }
func (e *Entry) Errorf(format string, v ...any) { e.log(slog.LevelError, format, v...) }
