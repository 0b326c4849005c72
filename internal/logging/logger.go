// Package logging provides the leveled logger used across the SDK. It
// wraps zerolog rather than hand-rolling a formatter: every ambient
// concern that isn't the printer/command/transfer domain itself rides
// on an established library, and zerolog is the one the retrieval
// pack's logiface-zerolog adapter builds its production sink on.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the available log levels, kept distinct from
// zerolog.Level so callers never need to import zerolog directly.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format is "text" (console-writer, human-readable) or "json"
	// (structured, for ingestion by Connect-side log collection).
	Format string
	Output io.Writer
	// NoColor disables ANSI color codes in the text formatter.
	NoColor bool
	// Sync is not read by NewLogger; setting it has no effect on output.
	Sync bool
}

// DefaultConfig returns a sensible default configuration: text format,
// info level, stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps a zerolog.Logger with the key-value and level API the
// rest of the SDK is written against.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a new logger from config. A nil config uses
// DefaultConfig.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	var w io.Writer = output
	if config.Format != "json" {
		w = zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
	}

	zl := zerolog.New(w).Level(config.Level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger used by the package-level
// convenience functions.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func (l *Logger) event(level LogLevel) *zerolog.Event {
	switch level {
	case LevelDebug:
		return l.zl.Debug()
	case LevelWarn:
		return l.zl.Warn()
	case LevelError:
		return l.zl.Error()
	default:
		return l.zl.Info()
	}
}

func withArgs(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

func (l *Logger) Debug(msg string, args ...any) { withArgs(l.event(LevelDebug), args).Msg(msg) }
func (l *Logger) Info(msg string, args ...any)  { withArgs(l.event(LevelInfo), args).Msg(msg) }
func (l *Logger) Warn(msg string, args ...any)  { withArgs(l.event(LevelWarn), args).Msg(msg) }
func (l *Logger) Error(msg string, args ...any) { withArgs(l.event(LevelError), args).Msg(msg) }

// Printf-style logging, kept for call sites ported from the loop and
// transport code, which format their own messages.
func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// WithPrinter returns a child logger annotated with the printer's serial
// number, used for every log line emitted from the communication loop.
func (l *Logger) WithPrinter(serial string) *Logger {
	return &Logger{zl: l.zl.With().Str("serial", serial).Logger()}
}

// WithCommand returns a child logger annotated with a command's id and
// kind, used while the command is NEW/ACCEPTED/RUNNING.
func (l *Logger) WithCommand(id uint32, kind string) *Logger {
	return &Logger{zl: l.zl.With().Uint32("command_id", id).Str("command_kind", kind).Logger()}
}

// WithTransfer returns a child logger annotated with a transfer's id.
func (l *Logger) WithTransfer(id uint32) *Logger {
	return &Logger{zl: l.zl.With().Uint32("transfer_id", id).Logger()}
}

// WithError returns a child logger that attaches err to every
// subsequent message.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// Global convenience functions, delegating to Default().

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
