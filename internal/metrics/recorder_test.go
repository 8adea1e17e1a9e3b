package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncAttempt("login", "checkin", ResultSuccess)
	r.ObserveCheckoutDuration(time.Second)
	r.IncProxyRegistration(false)
	r.IncProxyRetry()
	r.IncHeartbeat(true)
	r.SetProxyRegistered(true)
}

func TestPrometheusRecorderRegistersAndCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncAttempt("network_change", "checkin", ResultDebounced)
	r.IncProxyRegistration(true)
	r.IncProxyRetry()
	r.IncHeartbeat(false)
	r.SetProxyRegistered(true)
	r.ObserveCheckoutDuration(250 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["presenced_attendance_attempts_total"])
	require.True(t, names["presenced_proxy_registrations_total"])
	require.True(t, names["presenced_proxy_registration_retries_total"])
	require.True(t, names["presenced_proxy_heartbeats_total"])
	require.True(t, names["presenced_proxy_registered"])
	require.True(t, names["presenced_checkout_duration_seconds"])
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var r *PrometheusRecorder
	r.IncAttempt("login", "checkin", ResultFailed)
	r.SetProxyRegistered(false)
}
