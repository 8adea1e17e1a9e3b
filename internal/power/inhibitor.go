package power

import "log/slog"

// Inhibitor holds a system sleep-prevention lock while the shutdown dialog is
// up, so the OS cannot suspend before the prompt renders. Implementations
// wrap the platform facility (systemd-inhibit, IOPMAssertion, SetThreadExecutionState).
type Inhibitor interface {
	// Acquire takes the lock and returns its release function. The release
	// function must be idempotent; the coordinator funnels every exit path
	// through a single cleanup point but the contract keeps double-release
	// harmless.
	Acquire(reason string) (release func(), err error)
}

// NopInhibitor is used when no platform lock is available. The dialog may
// lose the race against suspend, which the persisted pending flag covers.
type NopInhibitor struct{}

func (NopInhibitor) Acquire(reason string) (func(), error) {
	slog.Debug("Sleep inhibitor not available on this platform", "reason", reason)
	return func() {}, nil
}
