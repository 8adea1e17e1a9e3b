package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/presenced/internal/foundation/errors"
	"git.home.luguber.info/inful/presenced/internal/netinfo"
)

const stateFileName = "attendance-state.json"

// JSONStore implements Store using a single JSON file with atomic writes.
//
// All mutations run under one mutex and are flushed to disk before the call
// returns: the orchestrator's correctness depends on persistence
// happening-before anything that observes the mutation (in particular the
// shutdown dialog).
type JSONStore struct {
	path string

	mu        sync.RWMutex
	session   Session
	ledger    Ledger
	lastSaved *time.Time
}

type persistedState struct {
	Version    string               `json:"version"`
	LastUpdate time.Time            `json:"last_update"`
	Session    Session              `json:"session"`
	Ledger     map[string]time.Time `json:"ledger,omitempty"`
}

// NewJSONStore creates the store and loads any existing state file.
// A corrupt or missing file yields an empty state, not an error: losing the
// debounce ledger is harmless and losing the session record is unrecoverable
// anyway.
func NewJSONStore(dataDir string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, ferrors.StateError("failed to create data directory").
			WithCause(err).
			WithContext("data_dir", dataDir).
			Build()
	}

	js := &JSONStore{
		path:   filepath.Join(dataDir, stateFileName),
		ledger: make(Ledger),
	}
	js.loadFromDisk()
	return js, nil
}

func (js *JSONStore) loadFromDisk() {
	data, err := os.ReadFile(js.path)
	if err != nil {
		return // no existing state
	}

	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return // corrupt file: start fresh
	}

	js.session = ps.Session
	for k, v := range ps.Ledger {
		js.ledger[Trigger(k)] = v
	}
}

// saveUnsafe writes the state to disk without acquiring the lock.
// Atomic write via temp file + rename so a crash mid-write never leaves a
// torn state file behind.
func (js *JSONStore) saveUnsafe() error {
	now := time.Now()
	ledger := make(map[string]time.Time, len(js.ledger))
	for k, v := range js.ledger {
		ledger[string(k)] = v
	}

	ps := persistedState{
		Version:    "1",
		LastUpdate: now,
		Session:    js.session,
		Ledger:     ledger,
	}

	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return ferrors.StateError("failed to marshal state").WithCause(err).Build()
	}

	tempPath := js.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return ferrors.StateError("failed to write temporary state file").
			WithCause(err).
			WithContext("path", tempPath).
			Build()
	}
	if err := os.Rename(tempPath, js.path); err != nil {
		return ferrors.StateError("failed to replace state file").
			WithCause(err).
			WithContext("path", js.path).
			Build()
	}

	js.lastSaved = &now
	return nil
}

// Session returns a copy of the current session record.
func (js *JSONStore) Session() Session {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.session
}

// UpdateSession applies fn under the lock and persists before returning.
func (js *JSONStore) UpdateSession(fn func(*Session)) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	fn(&js.session)
	return js.saveUnsafe()
}

// MarkPendingCheckout durably records that a check-out is owed as of `at`.
func (js *JSONStore) MarkPendingCheckout(at time.Time, hint *netinfo.Info) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.session.PendingCheckout = true
	js.session.SessionEnd = &at
	if hint != nil {
		h := *hint
		js.session.LastNetwork = &h
	}
	return js.saveUnsafe()
}

// ClearPendingCheckout clears the owed-checkout flag.
func (js *JSONStore) ClearPendingCheckout() error {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.session.PendingCheckout = false
	return js.saveUnsafe()
}

// LastSuccess returns the ledger entry for the trigger, if any.
func (js *JSONStore) LastSuccess(t Trigger) (time.Time, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	at, ok := js.ledger[t]
	return at, ok
}

// RecordSuccess updates the ledger entry for the trigger and persists.
func (js *JSONStore) RecordSuccess(t Trigger, at time.Time) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.ledger[t] = at
	return js.saveUnsafe()
}

// LastSaved returns the time of the last successful disk write, if any.
func (js *JSONStore) LastSaved() *time.Time {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.lastSaved
}

// Close performs a final save.
func (js *JSONStore) Close() error {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.saveUnsafe()
}
