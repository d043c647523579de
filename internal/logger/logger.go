// Package logger provides structured logging for treenav
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with treenav-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "treenav").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// BuildLogger returns a logger for index build operations
func (l *Logger) BuildLogger(docID string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "builder").
			Str("doc_id", docID).
			Logger(),
	}
}

// StoreLogger returns a logger for node store operations
func (l *Logger) StoreLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "store").
			Str("operation", operation).
			Logger(),
	}
}

// QueryLogger returns a logger for retrieval operations
func (l *Logger) QueryLogger() *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "query").
			Logger(),
	}
}

// LogBuildCompleted logs an index build with structured fields
func (l *Logger) LogBuildCompleted(docID string, nodeCount, depth int, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "builder").
		Str("doc_id", docID).
		Int("node_count", nodeCount).
		Int("depth", depth).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "builder").
			Str("doc_id", docID).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Index build completed")
}

// LogRetrieval logs a retrieval with structured fields
func (l *Logger) LogRetrieval(query string, nodesTraversed int, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "query").
		Str("query", query).
		Int("nodes_traversed", nodesTraversed).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "query").
			Str("query", query).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Retrieval completed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(dataDir string, workers int) {
	l.zlog.Info().
		Str("event", "server_start").
		Str("data_dir", dataDir).
		Int("workers", workers).
		Msg("treenav server starting")
}

// LogServerReady logs when the server is ready
func (l *Logger) LogServerReady() {
	l.zlog.Info().
		Str("event", "server_ready").
		Msg("treenav server ready")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("treenav server shutting down")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
