package daemon

import (
	"time"

	"git.home.luguber.info/inful/presenced/internal/version"
)

// HealthState grades a health check result.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthCheck is one named probe result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  HealthState `json:"status"`
	Message string      `json:"message,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    HealthState   `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

// healthResponse aggregates the subsystem probes. Overall status is the worst
// individual check.
func (d *Daemon) healthResponse() HealthResponse {
	var checks []HealthCheck

	daemonCheck := HealthCheck{Name: "daemon", Status: HealthHealthy}
	switch d.Status() {
	case StatusRunning:
	case StatusError:
		daemonCheck.Status = HealthUnhealthy
		daemonCheck.Message = "daemon failed to start"
	default:
		daemonCheck.Status = HealthDegraded
		daemonCheck.Message = string(d.Status())
	}
	checks = append(checks, daemonCheck)

	authCheck := HealthCheck{Name: "authentication", Status: HealthHealthy}
	if !d.client.Tokens().Authenticated() {
		authCheck.Status = HealthDegraded
		authCheck.Message = "no access token; attendance attempts are skipped"
	}
	checks = append(checks, authCheck)

	pendingCheck := HealthCheck{Name: "pending_checkout", Status: HealthHealthy}
	if d.store.Session().PendingCheckout {
		pendingCheck.Status = HealthDegraded
		pendingCheck.Message = "an owed check-out is waiting for reconciliation"
	}
	checks = append(checks, pendingCheck)

	if d.relay != nil {
		proxyCheck := HealthCheck{Name: "proxy", Status: HealthHealthy}
		reg := d.relay.Status()
		switch {
		case !reg.IsRunning:
			proxyCheck.Status = HealthUnhealthy
			proxyCheck.Message = "relay listener is not running"
		case !reg.IsRegistered:
			proxyCheck.Status = HealthDegraded
			proxyCheck.Message = "relay is serving but not registered with the server"
		}
		checks = append(checks, proxyCheck)
	}

	overall := HealthHealthy
	for _, c := range checks {
		if c.Status == HealthUnhealthy {
			overall = HealthUnhealthy
			break
		}
		if c.Status == HealthDegraded {
			overall = HealthDegraded
		}
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(d.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    checks,
	}
}
