package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextAccumulatesFields(t *testing.T) {
	ctx := context.Background()
	ctx = WithAttemptID(ctx, "att-1")
	ctx = WithTrigger(ctx, "network_change")
	ctx = WithIntent(ctx, "checkin")
	ctx = WithUserID(ctx, "user-9")

	lc := GetContext(ctx)
	require.Equal(t, "att-1", lc.AttemptID)
	require.Equal(t, "network_change", lc.Trigger)
	require.Equal(t, "checkin", lc.Intent)
	require.Equal(t, "user-9", lc.UserID)
}

func TestLaterWithDoesNotClobberEarlierFields(t *testing.T) {
	ctx := WithAttemptID(context.Background(), "att-2")
	ctx = WithTrigger(ctx, "shutdown")

	lc := GetContext(ctx)
	require.Equal(t, "att-2", lc.AttemptID)
	require.Equal(t, "shutdown", lc.Trigger)
}

func TestInfoContextEmitsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx := WithAttemptID(context.Background(), "att-3")
	InfoContext(ctx, "attempt started", slog.String("extra", "x"))

	out := buf.String()
	require.Contains(t, out, "attempt.id=att-3")
	require.Contains(t, out, "extra=x")
}
