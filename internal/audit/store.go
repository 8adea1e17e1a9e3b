// Package audit keeps an append-only record of every attendance attempt,
// success and skip, independent of what is shown to the user. The log exists
// for postmortems: "why did the daemon not check me out on Friday" must be
// answerable from disk.
package audit

import (
	"context"
	"time"
)

// Record is one appended audit entry.
type Record struct {
	ID        int64             `json:"id"`
	AttemptID string            `json:"attempt_id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   []byte            `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Record type names.
const (
	TypeAttemptStarted   = "AttemptStarted"
	TypeAttemptSucceeded = "AttemptSucceeded"
	TypeAttemptFailed    = "AttemptFailed"
	TypeAttemptSkipped   = "AttemptSkipped"
	TypePendingMarked    = "PendingCheckoutMarked"
	TypePendingCleared   = "PendingCheckoutCleared"
	TypeProxyRegistered  = "ProxyRegistered"
	TypeProxyUnregister  = "ProxyUnregistered"
	TypeProxyHeartbeat   = "ProxyHeartbeatFailed"
)

// Store defines the interface for persisting and retrieving audit records.
type Store interface {
	// Append adds a new record to the log.
	Append(ctx context.Context, attemptID, recordType string, payload []byte, metadata map[string]string) error

	// GetByAttemptID retrieves all records for a specific attempt.
	GetByAttemptID(ctx context.Context, attemptID string) ([]Record, error)

	// GetRange retrieves records within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Record, error)

	// Close closes the store and releases resources.
	Close() error
}
