// Package logger provides the structured logging sink used across the hub.
// The data plane never writes to a terminal directly; every component logs
// through here, and formatting is this package's concern alone.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level represents the logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category is a debug category gating high-volume trace logging.
type Category string

const (
	CategoryHandshake Category = "handshake"
	CategoryWire      Category = "wire"
	CategoryRender    Category = "render"
	CategoryMixer     Category = "mixer"
	CategoryTransport Category = "transport"
	CategoryAll       Category = "all"
)

// OutputFormat determines the log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds logger configuration.
type Config struct {
	Level             Level
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[Category]bool
	mu                sync.RWMutex
}

// NewConfig returns a configuration with sane defaults.
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		EnabledCategories: make(map[Category]bool),
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(level string) (Level, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to an OutputFormat.
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts a Level to slog.Level.
func (l Level) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableCategory enables a specific debug category.
func (c *Config) EnableCategory(category Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == CategoryAll {
		c.EnabledCategories[CategoryHandshake] = true
		c.EnabledCategories[CategoryWire] = true
		c.EnabledCategories[CategoryRender] = true
		c.EnabledCategories[CategoryMixer] = true
		c.EnabledCategories[CategoryTransport] = true
		return
	}
	c.EnabledCategories[category] = true
}

// IsCategoryEnabled reports whether a debug category is enabled.
func (c *Config) IsCategoryEnabled(category Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// Logger wraps slog.Logger with category-gated trace helpers.
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// New builds a Logger from cfg, opening the output file if one is set.
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.ToSlogLevel()}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return &Logger{Logger: slog.New(handler), config: cfg, file: file}, nil
}

// Close closes the backing log file, if any was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a derived Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, file: l.file}
}

// DebugHandshake logs crypto handshake trace if enabled.
func (l *Logger) DebugHandshake(msg string, args ...any) {
	if l.config.IsCategoryEnabled(CategoryHandshake) {
		l.Debug(msg, append([]any{"category", "handshake"}, args...)...)
	}
}

// DebugWire logs wire-framing trace if enabled.
func (l *Logger) DebugWire(msg string, args ...any) {
	if l.config.IsCategoryEnabled(CategoryWire) {
		l.Debug(msg, append([]any{"category", "wire"}, args...)...)
	}
}

// DebugRender logs render-worker trace if enabled.
func (l *Logger) DebugRender(msg string, args ...any) {
	if l.config.IsCategoryEnabled(CategoryRender) {
		l.Debug(msg, append([]any{"category", "render"}, args...)...)
	}
}

// DebugMixer logs audio mixer trace if enabled.
func (l *Logger) DebugMixer(msg string, args ...any) {
	if l.config.IsCategoryEnabled(CategoryMixer) {
		l.Debug(msg, append([]any{"category", "mixer"}, args...)...)
	}
}

// DebugTransport logs transport trace if enabled.
func (l *Logger) DebugTransport(msg string, args ...any) {
	if l.config.IsCategoryEnabled(CategoryTransport) {
		l.Debug(msg, append([]any{"category", "transport"}, args...)...)
	}
}

// SetDefault installs logger as the package default.
func SetDefault(l *Logger) {
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// Default returns the process-wide default logger, creating one on first use.
func Default() *Logger {
	once.Do(func() {
		cfg := NewConfig()
		l, err := New(cfg)
		if err != nil {
			l = &Logger{Logger: slog.Default(), config: cfg}
		}
		defaultLogger = l
	})
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs at info level using the default logger.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at warn level using the default logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at error level using the default logger.
func Error(msg string, args ...any) { Default().Error(msg, args...) }
