package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/netinfo"
	"git.home.luguber.info/inful/presenced/internal/ui"
)

type scriptConfirmer struct {
	mu     sync.Mutex
	choice ui.Choice
	calls  int
	last   ui.Prompt
}

func (s *scriptConfirmer) Confirm(_ context.Context, prompt ui.Prompt) (ui.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = prompt
	return s.choice, nil
}

func (s *scriptConfirmer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newReconcilerFixture(t *testing.T) (*fixture, *scriptConfirmer, *Reconciler) {
	t.Helper()
	f := newFixture(t)
	confirmer := &scriptConfirmer{choice: ui.ChoiceAccept}
	rec := NewReconciler(f.store, f.client, f.orch, confirmer, 0)
	return f, confirmer, rec
}

func TestRecoveryBackdatesCheckOut(t *testing.T) {
	f, confirmer, rec := newReconcilerFixture(t)
	f.backend.status = api.StatusCheckedIn

	sessionEnd := time.Date(2026, 2, 2, 17, 30, 0, 0, time.UTC)
	network := netinfo.Wifi("Office-5G", "")
	require.NoError(t, f.store.MarkPendingCheckout(sessionEnd, &network))

	require.NoError(t, rec.Run(context.Background()))

	require.Equal(t, 1, confirmer.callCount())
	require.Equal(t, 1, f.backend.checkOuts)

	f.backend.mu.Lock()
	sent := f.backend.lastCheckOut
	f.backend.mu.Unlock()
	require.NotNil(t, sent.CheckOutTime)
	require.True(t, sent.CheckOutTime.Equal(sessionEnd), "recovery must report the original time, not now")
	require.Equal(t, "recovery", sent.Source)

	require.False(t, f.store.Session().PendingCheckout)
}

func TestRecoverySilentlyClearsWhenAlreadyCheckedOut(t *testing.T) {
	f, confirmer, rec := newReconcilerFixture(t)
	f.backend.status = api.StatusCheckedOut
	require.NoError(t, f.store.MarkPendingCheckout(time.Now().Add(-time.Hour), nil))

	require.NoError(t, rec.Run(context.Background()))

	require.Zero(t, confirmer.callCount(), "no dialog when the loop is already closed")
	require.Zero(t, f.backend.checkOuts)
	require.False(t, f.store.Session().PendingCheckout)
}

func TestRecoveryNoopWithoutPendingFlag(t *testing.T) {
	f, confirmer, rec := newReconcilerFixture(t)

	require.NoError(t, rec.Run(context.Background()))

	require.Zero(t, confirmer.callCount())
	require.Zero(t, f.backend.statusCalls)
}

func TestRecoveryDeclineKeepsPendingFlag(t *testing.T) {
	f, confirmer, rec := newReconcilerFixture(t)
	confirmer.choice = ui.ChoiceDecline
	f.backend.status = api.StatusCheckedIn
	require.NoError(t, f.store.MarkPendingCheckout(time.Now().Add(-time.Hour), nil))

	require.NoError(t, rec.Run(context.Background()))

	require.Equal(t, 1, confirmer.callCount())
	require.Zero(t, f.backend.checkOuts)
	require.True(t, f.store.Session().PendingCheckout, "declined recovery keeps the obligation")
}

func TestRecoveryRespectsWarmupCancellation(t *testing.T) {
	f, _, _ := newReconcilerFixture(t)
	confirmer := &scriptConfirmer{choice: ui.ChoiceAccept}
	rec := NewReconciler(f.store, f.client, f.orch, confirmer, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rec.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
