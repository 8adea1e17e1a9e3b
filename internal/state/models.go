package state

import (
	"time"

	"git.home.luguber.info/inful/presenced/internal/netinfo"
)

// Trigger names the cause of an attendance attempt.
type Trigger string

const (
	TriggerLogin         Trigger = "login"
	TriggerAppStart      Trigger = "app_start"
	TriggerNetworkChange Trigger = "network_change"
	TriggerSystemWake    Trigger = "system_wake"
	TriggerShutdown      Trigger = "shutdown"
	TriggerLogout        Trigger = "logout"
	TriggerRecovery      Trigger = "recovery"
	TriggerBackground    Trigger = "background"
)

// Intent is the direction a trigger implies.
type Intent string

const (
	IntentCheckIn  Intent = "checkin"
	IntentCheckOut Intent = "checkout"
)

// Intent returns the implicit direction of the trigger.
func (t Trigger) Intent() Intent {
	switch t {
	case TriggerShutdown, TriggerLogout, TriggerRecovery, TriggerBackground:
		return IntentCheckOut
	default:
		return IntentCheckIn
	}
}

// Valid reports whether the trigger is one of the known values.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerLogin, TriggerAppStart, TriggerNetworkChange, TriggerSystemWake,
		TriggerShutdown, TriggerLogout, TriggerRecovery, TriggerBackground:
		return true
	default:
		return false
	}
}

// Session is the durable record that survives process restarts. It is created
// on the first successful check-in and never deleted; only its fields mutate.
//
// Invariant: PendingCheckout == true implies SessionEnd is set. The pair
// records "the process believed it was about to disappear while the user was
// still checked in" and is the sole mechanism for crash recovery.
type Session struct {
	LastCheckIn       *time.Time    `json:"last_check_in,omitempty"`
	LastCheckOut      *time.Time    `json:"last_check_out,omitempty"`
	LastNetwork       *netinfo.Info `json:"last_network,omitempty"`
	SystemFingerprint string        `json:"system_fingerprint,omitempty"`
	SessionEnd        *time.Time    `json:"session_end,omitempty"`
	PendingCheckout   bool          `json:"pending_checkout"`
}

// Ledger maps each trigger to its last successful attempt. Used only for
// debouncing; updated only on success so a failed attempt never blocks a retry.
type Ledger map[Trigger]time.Time

// Store is the single-writer persistence contract shared by the orchestrator,
// the power coordinator and the recovery reconciler.
type Store interface {
	// Session returns a copy of the current session record.
	Session() Session

	// UpdateSession applies fn under the store lock and persists the result
	// durably before returning.
	UpdateSession(fn func(*Session)) error

	// MarkPendingCheckout durably records that a check-out is owed as of the
	// given time. The session-end timestamp and the network hint are written
	// in the same atomic update.
	MarkPendingCheckout(at time.Time, hint *netinfo.Info) error

	// ClearPendingCheckout clears the owed-checkout flag. The session-end
	// timestamp is retained for diagnostics.
	ClearPendingCheckout() error

	// LastSuccess returns the ledger entry for the trigger, if any.
	LastSuccess(t Trigger) (time.Time, bool)

	// RecordSuccess updates the ledger entry for the trigger and persists.
	RecordSuccess(t Trigger, at time.Time) error

	// Close performs a final save and releases resources.
	Close() error
}
