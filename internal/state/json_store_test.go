package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/presenced/internal/netinfo"
)

func TestTriggerIntent(t *testing.T) {
	require.Equal(t, IntentCheckIn, TriggerLogin.Intent())
	require.Equal(t, IntentCheckIn, TriggerNetworkChange.Intent())
	require.Equal(t, IntentCheckIn, TriggerSystemWake.Intent())
	require.Equal(t, IntentCheckOut, TriggerShutdown.Intent())
	require.Equal(t, IntentCheckOut, TriggerRecovery.Intent())
	require.Equal(t, IntentCheckOut, TriggerBackground.Intent())
	require.False(t, Trigger("bogus").Valid())
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := NewJSONStore(dir)
	require.NoError(t, err)

	endedAt := time.Date(2026, 8, 25, 17, 30, 0, 0, time.UTC)
	hint := netinfo.Wifi("Office-5G", "aa:bb")
	require.NoError(t, store.MarkPendingCheckout(endedAt, &hint))
	require.NoError(t, store.RecordSuccess(TriggerLogin, endedAt))
	require.NoError(t, store.Close())

	reopened, err := NewJSONStore(dir)
	require.NoError(t, err)

	session := reopened.Session()
	require.True(t, session.PendingCheckout)
	require.NotNil(t, session.SessionEnd)
	require.True(t, session.SessionEnd.Equal(endedAt))
	require.NotNil(t, session.LastNetwork)
	require.Equal(t, "Office-5G", session.LastNetwork.SSID)

	at, ok := reopened.LastSuccess(TriggerLogin)
	require.True(t, ok)
	require.True(t, at.Equal(endedAt))
}

func TestPendingCheckoutImpliesSessionEnd(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.MarkPendingCheckout(time.Now(), nil))
	session := store.Session()
	require.True(t, session.PendingCheckout)
	require.NotNil(t, session.SessionEnd)

	require.NoError(t, store.ClearPendingCheckout())
	session = store.Session()
	require.False(t, session.PendingCheckout)
	// Session end stays for diagnostics.
	require.NotNil(t, session.SessionEnd)
}

func TestLedgerMissesForUnknownTrigger(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	_, ok := store.LastSuccess(TriggerNetworkChange)
	require.False(t, ok)
}

func TestUpdateSessionPersistsBeforeReturn(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.UpdateSession(func(s *Session) {
		s.LastCheckIn = &now
		s.PendingCheckout = false
	}))

	// A second store reading the same directory must see the write without
	// the first store being closed.
	other, err := NewJSONStore(dir)
	require.NoError(t, err)
	require.NotNil(t, other.Session().LastCheckIn)
}
