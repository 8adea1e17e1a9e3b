package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndGetByAttemptID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "att-1", TypeAttemptStarted, []byte(`{"trigger":"login"}`), nil))
	require.NoError(t, store.Append(ctx, "att-1", TypeAttemptSucceeded, []byte(`{"trigger":"login"}`), map[string]string{"source": "test"}))
	require.NoError(t, store.Append(ctx, "att-2", TypeAttemptFailed, nil, nil))

	records, err := store.GetByAttemptID(ctx, "att-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, TypeAttemptStarted, records[0].Type)
	require.Equal(t, TypeAttemptSucceeded, records[1].Type)
	require.Equal(t, "test", records[1].Metadata["source"])
}

func TestGetRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "att-1", TypeAttemptSkipped, nil, nil))

	records, err := store.GetRange(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = store.GetRange(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Empty(t, records)
}

type captureMirror struct {
	records []Record
}

func (c *captureMirror) Publish(r Record) error {
	c.records = append(c.records, r)
	return nil
}

func TestLoggerMirrorsRecords(t *testing.T) {
	store := newTestStore(t)
	mirror := &captureMirror{}
	logger := NewLogger(store, mirror)
	ctx := context.Background()

	logger.Succeeded(ctx, "att-9", AttemptPayload{Trigger: "network_change", Intent: "checkin", At: time.Now()})

	require.Len(t, mirror.records, 1)
	require.Equal(t, TypeAttemptSucceeded, mirror.records[0].Type)

	var payload AttemptPayload
	require.NoError(t, json.Unmarshal(mirror.records[0].Payload, &payload))
	require.Equal(t, "network_change", payload.Trigger)

	stored, err := store.GetByAttemptID(ctx, "att-9")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Started(context.Background(), "att-x", AttemptPayload{})
}
