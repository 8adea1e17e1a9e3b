// Package observability carries structured logging context through attempt
// flows so every log line inside one attempt shares the same identifiers.
package observability

import (
	"context"
	"log/slog"
)

// LogContext holds structured logging context information.
type LogContext struct {
	AttemptID string
	Trigger   string
	Intent    string
	UserID    string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithAttemptID adds an attempt ID to the context.
func WithAttemptID(ctx context.Context, attemptID string) context.Context {
	lc := extractLogContext(ctx)
	lc.AttemptID = attemptID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithTrigger adds the trigger name to the context.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	lc := extractLogContext(ctx)
	lc.Trigger = trigger
	return context.WithValue(ctx, logContextKey, lc)
}

// WithIntent adds the attempt intent to the context.
func WithIntent(ctx context.Context, intent string) context.Context {
	lc := extractLogContext(ctx)
	lc.Intent = intent
	return context.WithValue(ctx, logContextKey, lc)
}

// WithUserID adds a user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	lc := extractLogContext(ctx)
	lc.UserID = userID
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := []slog.Attr{}

	if lc.AttemptID != "" {
		attrs = append(attrs, slog.String("attempt.id", lc.AttemptID))
	}
	if lc.Trigger != "" {
		attrs = append(attrs, slog.String("trigger", lc.Trigger))
	}
	if lc.Intent != "" {
		attrs = append(attrs, slog.String("intent", lc.Intent))
	}
	if lc.UserID != "" {
		attrs = append(attrs, slog.String("user.id", lc.UserID))
	}

	return attrs
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	contextAttrs := getLogAttrs(ctx)
	allAttrs := append(contextAttrs, attrs...)
	slog.LogAttrs(ctx, slog.LevelInfo, msg, allAttrs...)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	contextAttrs := getLogAttrs(ctx)
	allAttrs := append(contextAttrs, attrs...)
	slog.LogAttrs(ctx, slog.LevelWarn, msg, allAttrs...)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	contextAttrs := getLogAttrs(ctx)
	allAttrs := append(contextAttrs, attrs...)
	slog.LogAttrs(ctx, slog.LevelError, msg, allAttrs...)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	contextAttrs := getLogAttrs(ctx)
	allAttrs := append(contextAttrs, attrs...)
	slog.LogAttrs(ctx, slog.LevelDebug, msg, allAttrs...)
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}
