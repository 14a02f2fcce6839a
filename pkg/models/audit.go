package models

import "time"

// AuditEntry records a single request. It never carries message content,
// sealed records, or raw tokens.
type AuditEntry struct {
	RequestID      string
	Timestamp      time.Time
	TokenHash      string
	Operation      string
	Path           string
	ResponseCode   int
	ResponseTimeMs int64
	ClientIP       string
}
