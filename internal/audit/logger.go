package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// AttemptPayload is the JSON payload attached to attempt records.
type AttemptPayload struct {
	Trigger   string    `json:"trigger"`
	Intent    string    `json:"intent"`
	Reason    string    `json:"reason,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	ErrorType string    `json:"error_type,omitempty"`
	Network   string    `json:"network,omitempty"`
	At        time.Time `json:"at"`
}

// Mirror receives a copy of every appended record. Implementations must not
// block the caller for long; failures are logged and ignored.
type Mirror interface {
	Publish(record Record) error
}

// Logger is the high-level audit API used by the orchestrator and the proxy
// subsystem. Appends are best-effort: an audit failure is logged but never
// fails the operation being audited.
type Logger struct {
	store  Store
	mirror Mirror
}

// NewLogger wraps a store. mirror may be nil.
func NewLogger(store Store, mirror Mirror) *Logger {
	return &Logger{store: store, mirror: mirror}
}

// Append writes one record, mirroring it if configured.
func (l *Logger) Append(ctx context.Context, attemptID, recordType string, payload AttemptPayload) {
	if l == nil || l.store == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal audit payload", "type", recordType, "error", err)
		return
	}

	if err := l.store.Append(ctx, attemptID, recordType, data, nil); err != nil {
		slog.Warn("Failed to append audit record", "type", recordType, "error", err)
		return
	}

	if l.mirror != nil {
		rec := Record{
			AttemptID: attemptID,
			Type:      recordType,
			Timestamp: payload.At,
			Payload:   data,
		}
		if err := l.mirror.Publish(rec); err != nil {
			slog.Warn("Failed to mirror audit record", "type", recordType, "error", err)
		}
	}
}

// Started records the beginning of an attempt.
func (l *Logger) Started(ctx context.Context, attemptID string, p AttemptPayload) {
	l.Append(ctx, attemptID, TypeAttemptStarted, p)
}

// Succeeded records a successful attempt.
func (l *Logger) Succeeded(ctx context.Context, attemptID string, p AttemptPayload) {
	l.Append(ctx, attemptID, TypeAttemptSucceeded, p)
}

// Failed records a failed attempt.
func (l *Logger) Failed(ctx context.Context, attemptID string, p AttemptPayload) {
	l.Append(ctx, attemptID, TypeAttemptFailed, p)
}

// Skipped records an attempt that never reached the server (debounce,
// ineligibility, no network).
func (l *Logger) Skipped(ctx context.Context, attemptID string, p AttemptPayload) {
	l.Append(ctx, attemptID, TypeAttemptSkipped, p)
}
