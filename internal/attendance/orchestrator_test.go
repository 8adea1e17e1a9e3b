package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/config"
	"git.home.luguber.info/inful/presenced/internal/netinfo"
	"git.home.luguber.info/inful/presenced/internal/state"
	"git.home.luguber.info/inful/presenced/internal/ui"
)

// memStore is an in-memory state.Store for orchestrator tests.
type memStore struct {
	mu     sync.Mutex
	sess   state.Session
	ledger state.Ledger
}

func newMemStore() *memStore {
	return &memStore{ledger: make(state.Ledger)}
}

func (m *memStore) Session() state.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

func (m *memStore) UpdateSession(fn func(*state.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.sess)
	return nil
}

func (m *memStore) MarkPendingCheckout(at time.Time, hint *netinfo.Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.PendingCheckout = true
	m.sess.SessionEnd = &at
	if hint != nil {
		m.sess.LastNetwork = hint
	}
	return nil
}

func (m *memStore) ClearPendingCheckout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.PendingCheckout = false
	return nil
}

func (m *memStore) LastSuccess(t state.Trigger) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.ledger[t]
	return at, ok
}

func (m *memStore) RecordSuccess(t state.Trigger, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[t] = at
	return nil
}

func (m *memStore) Close() error { return nil }

type notification struct {
	title, body string
	level       ui.Level
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (c *captureNotifier) Notify(title, body string, level ui.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, notification{title, body, level})
}

func (c *captureNotifier) all() []notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notification(nil), c.sent...)
}

// backend is a scriptable attendance server counting calls per endpoint.
type backend struct {
	mu          sync.Mutex
	status      api.AttendanceStatus
	allowed     bool
	checkInErr  *api.StatusError
	checkOutErr *api.StatusError

	statusCalls   int
	validateCalls int
	checkIns      int
	checkOuts     int
	lastCheckOut  api.CheckOutRequest
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/attendance/status", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.statusCalls++
		status := b.status
		b.mu.Unlock()
		json.NewEncoder(w).Encode(api.StatusResponse{Status: status})
	})
	mux.HandleFunc("/api/attendance/network/validate", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.validateCalls++
		allowed := b.allowed
		b.mu.Unlock()
		json.NewEncoder(w).Encode(api.NetworkValidateResponse{Allowed: allowed, Reason: "not approved"})
	})
	mux.HandleFunc("/api/attendance/check-in", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.checkIns++
		failure := b.checkInErr
		b.mu.Unlock()
		if failure != nil {
			w.WriteHeader(failure.StatusCode)
			json.NewEncoder(w).Encode(map[string]string{"code": failure.Code, "message": failure.Message})
			return
		}
		json.NewEncoder(w).Encode(api.CheckInResponse{AttendanceID: "att_123", CheckInTime: time.Now()})
	})
	mux.HandleFunc("/api/attendance/check-out", func(w http.ResponseWriter, r *http.Request) {
		var req api.CheckOutRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.checkOuts++
		b.lastCheckOut = req
		failure := b.checkOutErr
		b.mu.Unlock()
		if failure != nil {
			w.WriteHeader(failure.StatusCode)
			json.NewEncoder(w).Encode(map[string]string{"code": failure.Code, "message": failure.Message})
			return
		}
		out := time.Now()
		if req.CheckOutTime != nil {
			out = *req.CheckOutTime
		}
		json.NewEncoder(w).Encode(api.CheckOutResponse{AttendanceID: "att_123", CheckOutTime: out})
	})
	return mux
}

type fixture struct {
	orch     *Orchestrator
	client   *api.Client
	store    *memStore
	backend  *backend
	notifier *captureNotifier
	flags    *config.AttendanceConfig
	now      time.Time
}

func newFixture(t *testing.T, mutate ...func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		store:    newMemStore(),
		backend:  &backend{status: api.StatusNotStarted, allowed: true},
		notifier: &captureNotifier{},
		flags: &config.AttendanceConfig{
			AutoCheckIn:            true,
			AutoCheckoutOnShutdown: true,
			Notifications:          true,
			CheckoutTimeoutSeconds: 30,
			DebounceWindowSeconds:  30,
		},
		now: time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC),
	}

	server := httptest.NewServer(f.backend.handler())
	t.Cleanup(server.Close)

	f.client = api.NewClient(server.URL, api.NewTokenManager("access-1", "refresh-1"), "test-device", 5*time.Second)

	f.orch = New(Options{
		Flags:       func() config.AttendanceConfig { return *f.flags },
		Client:      f.client,
		Store:       f.store,
		Network:     func() netinfo.Info { return netinfo.Wifi("Office-5G", "") },
		Fingerprint: func() (string, error) { return "fp-1", nil },
		Notifier:    f.notifier,
		Now:         func() time.Time { return f.now },
	})

	for _, m := range mutate {
		m(f)
	}
	return f
}

func TestCheckInSuccessScenario(t *testing.T) {
	f := newFixture(t)

	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerNetworkChange)

	require.True(t, result.Success)
	require.Equal(t, "att_123", result.AttendanceID)

	at, ok := f.store.LastSuccess(state.TriggerNetworkChange)
	require.True(t, ok)
	require.Equal(t, f.now, at)

	sess := f.store.Session()
	require.False(t, sess.PendingCheckout)
	require.NotNil(t, sess.LastCheckIn)
	require.Equal(t, "fp-1", sess.SystemFingerprint)

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, "Checked in", notes[0].title)
}

func TestCheckInDebouncedAfterSuccess(t *testing.T) {
	f := newFixture(t)

	first := f.orch.AttemptCheckIn(context.Background(), state.TriggerNetworkChange)
	require.True(t, first.Success)

	f.now = f.now.Add(10 * time.Second)
	second := f.orch.AttemptCheckIn(context.Background(), state.TriggerNetworkChange)
	require.False(t, second.Success)
	require.Equal(t, "debounced", second.Reason)

	// The debounced attempt must never reach the server.
	require.Equal(t, 1, f.backend.statusCalls)
	require.Equal(t, 1, f.backend.checkIns)
}

func TestCheckInDebounceIsPerTrigger(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.orch.AttemptCheckIn(context.Background(), state.TriggerNetworkChange).Success)

	// A different trigger within the window is not suppressed.
	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerSystemWake)
	require.True(t, result.Success)
	require.Equal(t, 2, f.backend.statusCalls)
}

func TestFailedCheckInDoesNotBlockRetry(t *testing.T) {
	f := newFixture(t)
	f.backend.checkInErr = &api.StatusError{StatusCode: 500, Code: "unknown", Message: "boom"}

	first := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.False(t, first.Success)

	_, ok := f.store.LastSuccess(state.TriggerLogin)
	require.False(t, ok, "ledger must stay untouched on failure")

	f.backend.mu.Lock()
	f.backend.checkInErr = nil
	f.backend.mu.Unlock()

	second := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.True(t, second.Success)
	require.Equal(t, 2, f.backend.checkIns)
}

func TestCheckInSkippedWhenAlreadyCheckedIn(t *testing.T) {
	f := newFixture(t)
	f.backend.status = api.StatusCheckedIn

	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.False(t, result.Success)
	require.Equal(t, CodeAlreadyCheckedIn, result.ErrorCode)
	require.Zero(t, f.backend.checkIns)
	require.Empty(t, f.notifier.all(), "ineligibility is a skip, not an error to surface")
}

func TestCheckInBlockedByNetworkValidation(t *testing.T) {
	f := newFixture(t)
	f.backend.allowed = false

	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.False(t, result.Success)
	require.Equal(t, CodeNetworkNotApproved, result.ErrorCode)
	require.Zero(t, f.backend.checkIns)
}

func TestCheckInNoNetworkFailsFast(t *testing.T) {
	f := newFixture(t)
	f.orch.network = func() netinfo.Info { return netinfo.None() }

	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.False(t, result.Success)
	require.Equal(t, CodeNoNetwork, result.ErrorCode)
	require.Zero(t, f.backend.statusCalls, "no remote call without a network")
}

func TestAuthFailureIsLoggedNotSurfaced(t *testing.T) {
	f := newFixture(t)
	f.backend.checkInErr = &api.StatusError{StatusCode: 403, Message: "session expired, please login"}

	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.False(t, result.Success)
	require.Equal(t, ErrTypeAuthentication, result.ErrorType)
	require.Empty(t, f.notifier.all(), "authentication errors must not be surfaced")
}

func TestValidationFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	f.backend.checkInErr = &api.StatusError{StatusCode: 400, Code: "too_early", Message: "too early"}

	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.False(t, result.Success)
	require.Equal(t, CodeTooEarly, result.ErrorCode)

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, "Check-in failed", notes[0].title)
	require.Equal(t, "Check-in is not open yet for your shift.", notes[0].body)
}

func TestFingerprintFailureFatalInStrictMode(t *testing.T) {
	f := newFixture(t)
	f.orch.fingerprint = func() (string, error) { return "", errFingerprint }

	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.False(t, result.Success)
	require.Equal(t, CodeFingerprintRequired, result.ErrorCode)
	require.Zero(t, f.backend.checkIns)
}

func TestFingerprintFailureToleratedWhenAllowed(t *testing.T) {
	f := newFixture(t)
	f.flags.AllowMissingFingerprint = true
	f.orch.fingerprint = func() (string, error) { return "", errFingerprint }

	result := f.orch.AttemptCheckIn(context.Background(), state.TriggerLogin)
	require.True(t, result.Success)
}

func TestCheckOutHasNoDebounce(t *testing.T) {
	f := newFixture(t)
	f.backend.status = api.StatusCheckedIn

	first := f.orch.AttemptCheckOut(context.Background(), state.TriggerShutdown, CheckOutOptions{})
	require.True(t, first.Success)

	f.backend.mu.Lock()
	f.backend.status = api.StatusCheckedIn
	f.backend.mu.Unlock()

	second := f.orch.AttemptCheckOut(context.Background(), state.TriggerShutdown, CheckOutOptions{})
	require.True(t, second.Success)
	require.Equal(t, 2, f.backend.checkOuts)
}

func TestCheckOutPassesExplicitTimeUnmodified(t *testing.T) {
	f := newFixture(t)
	f.backend.status = api.StatusCheckedIn
	eventTime := time.Date(2026, 2, 2, 17, 45, 0, 0, time.UTC)

	result := f.orch.AttemptCheckOut(context.Background(), state.TriggerRecovery, CheckOutOptions{
		ExplicitTime: &eventTime,
	})
	require.True(t, result.Success)

	f.backend.mu.Lock()
	sent := f.backend.lastCheckOut
	f.backend.mu.Unlock()
	require.NotNil(t, sent.CheckOutTime)
	require.True(t, sent.CheckOutTime.Equal(eventTime))
}

func TestCheckOutAlreadyCheckedOutClearsPendingFlag(t *testing.T) {
	f := newFixture(t)
	f.backend.status = api.StatusCheckedOut
	end := time.Now().Add(-time.Hour)
	require.NoError(t, f.store.MarkPendingCheckout(end, nil))

	result := f.orch.AttemptCheckOut(context.Background(), state.TriggerRecovery, CheckOutOptions{})
	require.False(t, result.Success)
	require.Equal(t, CodeAlreadyCheckedOut, result.ErrorCode)
	require.False(t, f.store.Session().PendingCheckout)
	require.Empty(t, f.notifier.all(), "goal already achieved is not an error")
}

func TestCheckOutServerSideAlreadyCheckedOutRace(t *testing.T) {
	f := newFixture(t)
	f.backend.status = api.StatusCheckedIn
	f.backend.checkOutErr = &api.StatusError{StatusCode: 409, Code: "already_checked_out", Message: "already checked out"}
	require.NoError(t, f.store.MarkPendingCheckout(time.Now(), nil))

	result := f.orch.AttemptCheckOut(context.Background(), state.TriggerShutdown, CheckOutOptions{})
	require.False(t, result.Success)
	require.Equal(t, "goal already achieved", result.Reason)
	require.False(t, f.store.Session().PendingCheckout)
	require.Empty(t, f.notifier.all())
}

func TestCheckOutFastModeToleratesMissingFingerprint(t *testing.T) {
	f := newFixture(t)
	f.backend.status = api.StatusCheckedIn
	f.orch.fingerprint = func() (string, error) { return "", errFingerprint }

	result := f.orch.AttemptCheckOut(context.Background(), state.TriggerShutdown, CheckOutOptions{FastMode: true})
	require.True(t, result.Success)
	// Fast mode also skips network validation.
	require.Zero(t, f.backend.validateCalls)
}

func TestCheckOutSuccessClearsPendingCheckout(t *testing.T) {
	f := newFixture(t)
	f.backend.status = api.StatusCheckedIn
	require.NoError(t, f.store.MarkPendingCheckout(time.Now(), nil))

	result := f.orch.AttemptCheckOut(context.Background(), state.TriggerShutdown, CheckOutOptions{FastMode: true})
	require.True(t, result.Success)
	require.False(t, f.store.Session().PendingCheckout)
	require.NotNil(t, f.store.Session().LastCheckOut)
}

var errFingerprint = errors.New("no hardware addresses available")
