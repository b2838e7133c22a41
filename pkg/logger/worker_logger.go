// Package logger is the process-wide logging facade. Call sites use printf-style
// messages with a "[Component.Method]" prefix; records are emitted as JSON by zerolog.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string level to Level
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Config for logger
type Config struct {
	Level   Level
	Output  io.Writer
	Service string
	// Pretty switches to zerolog's console writer (development only).
	Pretty bool
}

// Logger wraps a zerolog.Logger with the printf API used across the codebase.
type Logger struct {
	z zerolog.Logger
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.MessageFieldName = "message"
}

// Init initializes the default logger. Later calls replace it, so bootstrap can
// raise the level once config is known.
func Init(cfg Config) {
	l := New(cfg)
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// New creates a new logger instance
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.Service == "" {
		cfg.Service = "calsync"
	}
	z := zerolog.New(out).
		Level(cfg.Level.zerolog()).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()
	return &Logger{z: z}
}

// Default returns the default logger
func Default() *Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(Config{Level: LevelInfo})
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Z returns the underlying zerolog logger for components that log typed fields.
func (l *Logger) Z() zerolog.Logger {
	return l.z
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{z: l.z.With().Fields(fields).Logger()}
}

// WithContext extracts request_id and user_id from context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	c := l.z.With()
	if reqID, ok := ctx.Value("request_id").(string); ok && reqID != "" {
		c = c.Str("request_id", reqID)
	}
	if userID := ctx.Value("user_id"); userID != nil {
		c = c.Interface("user_id", userID)
	}
	return &Logger{z: c.Logger()}
}

// WithError adds error information
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{z: l.z.With().Err(err).Logger()}
}

// WithDuration adds duration in milliseconds
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{z: l.z.With().Float64("duration_ms", float64(d.Microseconds())/1000.0).Logger()}
}

// Log methods
func (l *Logger) Debug(msg string, args ...any) { l.z.Debug().Msgf(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.z.Info().Msgf(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.z.Warn().Msgf(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.z.Error().Caller(1).Msgf(msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.z.Fatal().Caller(1).Msgf(msg, args...) }

// Package-level functions using default logger
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().z.Error().Caller(1).Msgf(msg, args...) }
func Fatal(msg string, args ...any) { Default().z.Fatal().Caller(1).Msgf(msg, args...) }

func WithField(key string, value any) *Logger  { return Default().WithField(key, value) }
func WithFields(fields map[string]any) *Logger { return Default().WithFields(fields) }
func WithContext(ctx context.Context) *Logger  { return Default().WithContext(ctx) }
func WithError(err error) *Logger              { return Default().WithError(err) }
func WithDuration(d time.Duration) *Logger     { return Default().WithDuration(d) }

// Z returns the default zerolog logger, tagged with a component name.
func Z(component string) zerolog.Logger {
	return Default().z.With().Str("component", component).Logger()
}
