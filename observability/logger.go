package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance
var Logger *slog.Logger

// InitLogger initializes the global logger with the appropriate handler
// For production, use JSON format; for development, use text format
func InitLogger(production bool) {
	InitLoggerWithLevel(production, slog.LevelInfo)
}

// InitLoggerWithLevel initializes the logger with a specific log level
func InitLoggerWithLevel(production bool, level slog.Level) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps a config string to a slog level, defaulting to info
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

func logger() *slog.Logger {
	if Logger == nil {
		InitLogger(false)
	}
	return Logger
}

// WithContext returns a logger with context fields
func WithContext(ctx context.Context) *slog.Logger {
	return logger()
}

// Info logs an info message
func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// Fatal logs an error message and exits
func Fatal(msg string, args ...any) {
	logger().Error(msg, args...)
	os.Exit(1)
}

// WithAccount returns a logger with the challenge account id
func WithAccount(accountID string) *slog.Logger {
	return logger().With("account_id", accountID)
}

// WithPosition returns a logger with the position id
func WithPosition(positionID string) *slog.Logger {
	return logger().With("position_id", positionID)
}

// WithSymbol returns a logger with symbol field
func WithSymbol(symbol string) *slog.Logger {
	return logger().With("symbol", symbol)
}

// WithError returns a logger with error field
func WithError(err error) *slog.Logger {
	return logger().With("error", err)
}

// RestyLogger routes HTTP client diagnostics through slog
type RestyLogger struct {
	component string
}

// NewRestyLogger creates a logger adapter tagged with the client component name
func NewRestyLogger(component string) *RestyLogger {
	return &RestyLogger{component: component}
}

func (l *RestyLogger) Errorf(format string, v ...any) {
	logger().Error(fmt.Sprintf(format, v...), "component", l.component)
}

func (l *RestyLogger) Warnf(format string, v ...any) {
	logger().Warn(fmt.Sprintf(format, v...), "component", l.component)
}

func (l *RestyLogger) Debugf(format string, v ...any) {
	logger().Debug(fmt.Sprintf(format, v...), "component", l.component)
}
