// Package ui is the boundary to whatever frontend is attached. The daemon
// never renders anything itself; it asks for a yes/no choice or posts a
// notification and moves on.
package ui

import (
	"context"
	"log/slog"
)

// Choice is the outcome of a binary prompt.
type Choice string

const (
	ChoiceAccept  Choice = "accept"
	ChoiceDecline Choice = "decline"
)

// Level grades a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Prompt is a binary question shown to the user.
type Prompt struct {
	Title    string
	Question string
	Accept   string
	Decline  string
}

// Confirmer presents a binary choice. Implementations must honor ctx
// cancellation; the shutdown path races the prompt against a timeout.
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (Choice, error)
}

// Notifier posts a non-blocking notification.
type Notifier interface {
	Notify(title, body string, level Level)
}

// HeadlessConfirmer answers every prompt with a fixed choice, for daemon
// deployments with no frontend attached. Declining is the safe default on
// the shutdown path: the pending-checkout flag stays set and recovery
// settles it on the next start.
type HeadlessConfirmer struct {
	Answer Choice
}

func (h HeadlessConfirmer) Confirm(_ context.Context, prompt Prompt) (Choice, error) {
	answer := h.Answer
	if answer == "" {
		answer = ChoiceDecline
	}
	slog.Info("No frontend attached, answering prompt automatically",
		"title", prompt.Title, "answer", string(answer))
	return answer, nil
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(title, body string, level Level) {
	switch level {
	case LevelError:
		slog.Error("Notification", "title", title, "body", body)
	case LevelWarning:
		slog.Warn("Notification", "title", title, "body", body)
	default:
		slog.Info("Notification", "title", title, "body", body)
	}
}

// NopNotifier drops notifications. Used when the notifications flag is off.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, Level) {}
