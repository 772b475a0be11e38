package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	globalMu       sync.RWMutex
	globalProvider LoggerProvider = NewZerologProvider(LevelInfo)
)

// SetProvider replaces the package-level provider used by GetLogger and
// GetLoggerWithName.
func SetProvider(p LoggerProvider) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalProvider = p
}

// GetLogger returns the default logger of the package-level provider.
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalProvider.GetLogger()
}

// GetLoggerWithName returns a named logger from the package-level provider.
func GetLoggerWithName(name string) Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalProvider.GetLoggerWithName(name)
}

// ParseLevel converts a textual level ("debug", "info", "warn", "error").
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// ZerologProvider implements LoggerProvider on top of zerolog.
// Loggers handed out by a provider share its level, so SetLevel also
// affects loggers obtained earlier.
type ZerologProvider struct {
	base  zerolog.Logger
	level *atomic.Int64
}

// NewZerologProvider creates a provider emitting JSON lines to stderr.
func NewZerologProvider(level Level) *ZerologProvider {
	return NewZerologProviderWithWriter(os.Stderr, level)
}

// NewConsoleProvider creates a provider with zerolog's human-readable
// console output.
func NewConsoleProvider(level Level) *ZerologProvider {
	return NewZerologProviderWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level)
}

// NewZerologProviderWithWriter creates a provider writing to w.
func NewZerologProviderWithWriter(w io.Writer, level Level) *ZerologProvider {
	lvl := &atomic.Int64{}
	lvl.Store(int64(level))
	return &ZerologProvider{
		base:  zerolog.New(w).With().Timestamp().Logger(),
		level: lvl,
	}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{logger: p.base, level: p.level}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{
		logger: p.base.With().Str("logger", name).Logger(),
		level:  p.level,
	}
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.level.Store(int64(level))
}

// WarnFunc returns a function suitable for errors.SetZerologWarnFunc.
// Warnings implementing zerolog.LogObjectMarshaler are embedded as
// structured fields.
func (p *ZerologProvider) WarnFunc() func(error) {
	logger := p.base.With().Str("logger", "warnings").Logger()
	return func(w error) {
		if Level(p.level.Load()) > LevelWarn {
			return
		}
		ev := logger.Warn()
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			ev = ev.EmbedObject(m)
		}
		ev.Msg(w.Error())
	}
}

type zerologLogger struct {
	logger zerolog.Logger
	level  *atomic.Int64
}

func (l *zerologLogger) enabled(level Level) bool {
	return Level(l.level.Load()) <= level
}

func (l *zerologLogger) Debug(msg string, fields ...any) {
	if l.enabled(LevelDebug) {
		l.logger.Debug().Fields(fields).Msg(msg)
	}
}

func (l *zerologLogger) Info(msg string, fields ...any) {
	if l.enabled(LevelInfo) {
		l.logger.Info().Fields(fields).Msg(msg)
	}
}

func (l *zerologLogger) Warn(msg string, fields ...any) {
	if l.enabled(LevelWarn) {
		l.logger.Warn().Fields(fields).Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, fields ...any) {
	if !l.enabled(LevelError) {
		return
	}
	ev := l.logger.Error()
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			ev = ev.Err(err)
			var m zerolog.LogObjectMarshaler
			if errors.As(err, &m) {
				ev = ev.Object("error_detail", m)
			}
			fields = fields[1:]
		}
	}
	ev.Fields(fields).Msg(msg)
}

func (l *zerologLogger) With(fields ...any) Logger {
	return &zerologLogger{
		logger: l.logger.With().Fields(fields).Logger(),
		level:  l.level,
	}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return l.enabled(level) && l.logger.GetLevel() <= toZerologLevel(level)
}
