package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with application-specific methods
type Logger struct {
	zerolog.Logger
}

// New creates a Logger writing to stdout
func New(level string, format string) *Logger {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter creates a Logger writing to w. format "text" or "console"
// selects human-readable output, anything else JSON.
func NewWithWriter(level string, format string, w io.Writer) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	if format == "text" || format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return &Logger{Logger: zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithRequestID returns a new logger with the request ID attached
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.With().Str("request_id", requestID).Logger()}
}

// WithComponent returns a new logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With().Str("component", component).Logger()}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, statusCode int, duration time.Duration, clientIP, requestID string) {
	l.Info().
		Str("method", method).
		Str("path", path).
		Int("status", statusCode).
		Dur("duration", duration).
		Str("client_ip", clientIP).
		Str("request_id", requestID).
		Msg("HTTP request")
}

// AuditLog mirrors an activity log entry to the structured log
func (l *Logger) AuditLog(userID, action string, details map[string]interface{}) {
	event := l.Info().
		Str("audit", "true").
		Str("user_id", userID).
		Str("action", action)

	if len(details) > 0 {
		event.Interface("details", details)
	}

	event.Msg("audit log")
}
