// Package metrics defines the observability hooks for attendance attempts and
// the proxy registration lifecycle.
package metrics

import "time"

// ResultLabel enumerates attempt result categories for counters.
type ResultLabel string

const (
	ResultSuccess   ResultLabel = "success"
	ResultFailed    ResultLabel = "failed"
	ResultDebounced ResultLabel = "debounced"
	ResultSkipped   ResultLabel = "skipped"
)

// Recorder defines observability hooks for attendance and proxy metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	IncAttempt(trigger string, intent string, result ResultLabel)
	ObserveCheckoutDuration(d time.Duration)
	IncProxyRegistration(success bool)
	IncProxyRetry()
	IncHeartbeat(success bool)
	SetProxyRegistered(registered bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncAttempt(string, string, ResultLabel) {}
func (NoopRecorder) ObserveCheckoutDuration(time.Duration)  {}
func (NoopRecorder) IncProxyRegistration(bool)              {}
func (NoopRecorder) IncProxyRetry()                         {}
func (NoopRecorder) IncHeartbeat(bool)                      {}
func (NoopRecorder) SetProxyRegistered(bool)                {}
