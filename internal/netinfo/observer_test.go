package netinfo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObserverEmitsOnChange(t *testing.T) {
	infos := []Info{
		Wifi("Office-5G", "aa:bb"),
		Wifi("Office-5G", "aa:bb"),
		Wifi("Home", "cc:dd"),
	}
	i := 0
	prober := ProberFunc(func() (Info, error) {
		info := infos[i]
		if i < len(infos)-1 {
			i++
		}
		return info, nil
	})

	var changes [][2]Info
	obs := NewObserver(prober, func(prev, cur Info) {
		changes = append(changes, [2]Info{prev, cur})
	})

	for range 3 {
		_, err := obs.Poll()
		require.NoError(t, err)
	}

	// First poll establishes a baseline, second is identical, third changes.
	require.Len(t, changes, 1)
	require.Equal(t, "Office-5G", changes[0][0].SSID)
	require.Equal(t, "Home", changes[0][1].SSID)
}

func TestObserverKeepsPreviousOnProbeFailure(t *testing.T) {
	calls := 0
	prober := ProberFunc(func() (Info, error) {
		calls++
		if calls == 1 {
			return Ethernet("00:11:22:33:44:55", "en0"), nil
		}
		return Info{}, fmt.Errorf("adapter query failed")
	})

	obs := NewObserver(prober, nil)
	first, err := obs.Poll()
	require.NoError(t, err)
	require.Equal(t, KindEthernet, first.Kind)

	second, err := obs.Poll()
	require.Error(t, err)
	require.True(t, first.Equal(second))
}

func TestInfoEquality(t *testing.T) {
	require.True(t, None().Equal(None()))
	require.True(t, Wifi("a", "x").Equal(Wifi("a", "x")))
	require.False(t, Wifi("a", "x").Equal(Wifi("a", "y")))
	require.False(t, Wifi("a", "x").Equal(Ethernet("m", "en0")))
	require.True(t, Ethernet("m", "en0").Equal(Ethernet("m", "en1")))
	require.True(t, None().IsNone())
	require.True(t, Info{}.IsNone())
}
