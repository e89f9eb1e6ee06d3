package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents specific debug categories for targeted debugging
type DebugCategory string

const (
	DebugRTP    DebugCategory = "rtp"
	DebugICE    DebugCategory = "ice"
	DebugDTLS   DebugCategory = "dtls"
	DebugSCTP   DebugCategory = "sctp"
	DebugPlugin DebugCategory = "plugin"
	DebugAll    DebugCategory = "all"
)

// OutputFormat determines the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds logger configuration
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// NewConfig creates a new logger configuration with defaults
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
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

// ParseFormat converts a string to OutputFormat
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

// ToZerologLevel converts LogLevel to zerolog.Level
func (l LogLevel) ToZerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// EnableCategory enables a specific debug category
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		c.EnabledCategories[DebugRTP] = true
		c.EnabledCategories[DebugICE] = true
		c.EnabledCategories[DebugDTLS] = true
		c.EnabledCategories[DebugSCTP] = true
		c.EnabledCategories[DebugPlugin] = true
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Logger wraps zerolog.Logger with category-based debugging, matching the
// shape of a general-purpose relay's buffered logger but on the ecosystem's
// structured-logging library rather than a hand-rolled writer.
type Logger struct {
	zerolog.Logger
	config *Config
	file   *os.File
}

// New creates a new Logger instance with the given configuration
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	if cfg.Format == FormatText {
		writer = zerolog.ConsoleWriter{Out: writer, NoColor: cfg.OutputFile != ""}
	}

	zl := zerolog.New(writer).Level(cfg.Level.ToZerologLevel()).With().Timestamp().Logger()

	return &Logger{Logger: zl, config: cfg, file: file}, nil
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) categoryEvent(category DebugCategory) *zerolog.Event {
	if !l.config.IsCategoryEnabled(category) {
		return nil
	}
	return l.Debug().Str("category", string(category))
}

// DebugRTP logs an RTP-path message if RTP debugging is enabled.
func (l *Logger) DebugRTP(msg string, kv ...any) {
	logCategory(l.categoryEvent(DebugRTP), msg, kv...)
}

// DebugICE logs an ICE-path message if ICE debugging is enabled.
func (l *Logger) DebugICE(msg string, kv ...any) {
	logCategory(l.categoryEvent(DebugICE), msg, kv...)
}

// DebugDTLS logs a DTLS-path message if DTLS debugging is enabled.
func (l *Logger) DebugDTLS(msg string, kv ...any) {
	logCategory(l.categoryEvent(DebugDTLS), msg, kv...)
}

// DebugSCTP logs an SCTP/DataChannel message if SCTP debugging is enabled.
func (l *Logger) DebugSCTP(msg string, kv ...any) {
	logCategory(l.categoryEvent(DebugSCTP), msg, kv...)
}

// DebugPlugin logs a plugin-boundary message if plugin debugging is enabled.
func (l *Logger) DebugPlugin(msg string, kv ...any) {
	logCategory(l.categoryEvent(DebugPlugin), msg, kv...)
}

// DebugRTPPacket logs one RTP packet's header fields at debug level.
func (l *Logger) DebugRTPPacket(seq uint16, timestamp uint32, payloadType uint8, payloadSize int) {
	if ev := l.categoryEvent(DebugRTP); ev != nil {
		ev.Uint16("sequence", seq).Uint32("timestamp", timestamp).
			Uint8("payload_type", payloadType).Int("payload_size", payloadSize).
			Msg("rtp packet")
	}
}

// logCategory finishes a category event with msg and key/value pairs, or
// does nothing if ev is nil (category disabled).
func logCategory(ev *zerolog.Event, msg string, kv ...any) {
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

// WithContext returns the logger unchanged; present for API parity with
// consumers that pass a context through a logging call chain.
func (l *Logger) WithContext(_ context.Context) *Logger {
	return l
}

// With returns a new Logger carrying the given string key/value pairs as
// persistent fields.
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.Logger.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{Logger: ctx.Logger(), config: l.config, file: l.file}
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault sets the global default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Default returns the default logger, creating one if necessary
func Default() *Logger {
	once.Do(func() {
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{Logger: zerolog.New(os.Stderr), config: NewConfig()}
		}
		defaultLogger = l
	})
	return defaultLogger
}

// Debug logs at Debug level using the default logger
func Debug(msg string) { Default().Debug().Msg(msg) }

// Info logs at Info level using the default logger
func Info(msg string) { Default().Info().Msg(msg) }

// Warn logs at Warn level using the default logger
func Warn(msg string) { Default().Warn().Msg(msg) }

// Error logs at Error level using the default logger
func Error(msg string) { Default().Error().Msg(msg) }
