package daemon

import (
	"time"

	"git.home.luguber.info/inful/presenced/internal/events"
	"git.home.luguber.info/inful/presenced/internal/power"
	"git.home.luguber.info/inful/presenced/internal/proxy"
	"git.home.luguber.info/inful/presenced/internal/state"
	"git.home.luguber.info/inful/presenced/internal/version"
)

// DaemonInfo summarizes the process itself.
type DaemonInfo struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

// StatusPayload is the /api/status document: everything the status CLI and
// local tooling need in one fetch.
type StatusPayload struct {
	Daemon      DaemonInfo              `json:"daemon"`
	Session     state.Session           `json:"session"`
	Network     string                  `json:"network"`
	Power       power.State             `json:"power"`
	Proxy       *proxy.Registration     `json:"proxy,omitempty"`
	LastAttempt *events.AttemptFinished `json:"last_attempt,omitempty"`
}

// StatusPayload builds the current status document.
func (d *Daemon) StatusPayload() StatusPayload {
	network := "none"
	if info, err := d.observer.Current(); err == nil {
		network = info.String()
	}

	payload := StatusPayload{
		Daemon: DaemonInfo{
			Status:    d.Status(),
			Version:   version.Version,
			StartedAt: d.startTime,
			Uptime:    time.Since(d.startTime).Round(time.Second).String(),
		},
		Session: d.store.Session(),
		Network: network,
		Power:   d.coord.Status(),
	}

	if d.relay != nil {
		reg := d.relay.Status()
		payload.Proxy = &reg
	}

	d.mu.Lock()
	payload.LastAttempt = d.lastAttempt
	d.mu.Unlock()

	return payload
}
