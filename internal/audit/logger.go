// Package audit writes the request access log.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/org/ephemera/pkg/models"
)

// Logger writes structured audit entries to a zerolog logger.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit Logger on top of the global logger.
func NewLogger() *Logger {
	return NewLoggerWith(log.Logger)
}

// NewLoggerWith creates an audit Logger writing to l.
func NewLoggerWith(l zerolog.Logger) *Logger {
	return &Logger{logger: l.With().Str("component", "audit").Logger()}
}

// LogRequest records an API request. Message content must never be passed
// here, only request metadata.
func (l *Logger) LogRequest(ctx context.Context, entry *models.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	ev := l.logger.Info()
	switch {
	case entry.ResponseCode >= 500:
		ev = l.logger.Error()
	case entry.ResponseCode == 401 || entry.ResponseCode == 403:
		ev = l.logger.Warn()
	}
	ev = ev.Ctx(ctx).
		Str("request_id", entry.RequestID).
		Str("method", entry.Operation).
		Str("path", entry.Path).
		Int("status", entry.ResponseCode).
		Int64("duration_ms", entry.ResponseTimeMs).
		Str("client_ip", entry.ClientIP).
		Time("at", entry.Timestamp)
	if entry.TokenHash != "" {
		ev = ev.Str("token_hash", entry.TokenHash)
	}
	ev.Msg("request")
}
