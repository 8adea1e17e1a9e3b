package events

import (
	"context"
	"time"

	"git.home.luguber.info/inful/presenced/internal/netinfo"
)

// Source feeds OS power/session signals onto the bus. Implementations are
// platform-specific (logind, Windows session notifications) and injected into
// the daemon; tests publish synthetic events directly.
type Source interface {
	// Run blocks until ctx is canceled, publishing PowerEvents as they occur.
	Run(ctx context.Context, bus *Bus) error
}

// PowerEventKind names an OS power/session signal.
type PowerEventKind string

const (
	PowerSuspend  PowerEventKind = "suspend"
	PowerResume   PowerEventKind = "resume"
	PowerShutdown PowerEventKind = "shutdown"
	PowerLogout   PowerEventKind = "logout"
	PowerLock     PowerEventKind = "lock"
	PowerUnlock   PowerEventKind = "unlock"
	PowerAppQuit  PowerEventKind = "app_quit"
)

// PowerEvent is an OS power/session signal delivered to the coordinator.
//
// The OS hookup publishes these onto the bus; in tests they are injected
// synthetically, which keeps the coordinator state machine testable without
// a live event source.
type PowerEvent struct {
	Kind PowerEventKind
	At   time.Time
}

// Deferrable reports whether the originating OS action can be vetoed until
// the coordinator explicitly releases it.
func (e PowerEvent) Deferrable() bool {
	switch e.Kind {
	case PowerSuspend, PowerShutdown, PowerLogout, PowerAppQuit:
		return true
	default:
		return false
	}
}

// NetworkChanged is emitted when the observed network attachment changes.
type NetworkChanged struct {
	Previous netinfo.Info
	Current  netinfo.Info
	At       time.Time
}

// AttemptFinished is emitted after every check-in/check-out attempt, whether
// it succeeded, failed or was skipped. Consumers must not use it to start
// another attempt; it exists for status reporting and notifications.
type AttemptFinished struct {
	AttemptID string
	Trigger   string
	Intent    string // "checkin" or "checkout"
	Success   bool
	Reason    string
	ErrorType string
	At        time.Time
}
