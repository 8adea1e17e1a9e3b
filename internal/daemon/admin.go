package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/presenced/internal/logfields"
	"git.home.luguber.info/inful/presenced/internal/metrics"
	"git.home.luguber.info/inful/presenced/internal/state"
)

// TriggerRequest is the POST /api/attendance/trigger body.
type TriggerRequest struct {
	Trigger string `json:"trigger"`
}

// TriggerResponse acknowledges an accepted trigger. The attempt itself runs
// asynchronously; its outcome lands in the audit log and /api/status.
type TriggerResponse struct {
	Accepted bool   `json:"accepted"`
	Trigger  string `json:"trigger"`
	Intent   string `json:"intent"`
}

// adminMux builds the localhost admin handler. It is bound to loopback only:
// the admin surface controls attendance for the local user and must not be
// reachable from the network the relay serves.
func (d *Daemon) adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := d.healthResponse()
		status := http.StatusOK
		if resp.Status == HealthUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.StatusPayload())
	})

	mux.HandleFunc("POST /api/attendance/trigger", d.handleTrigger)

	if d.registry != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(d.registry))
	}

	return mux
}

func (d *Daemon) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	trigger := state.Trigger(req.Trigger)
	if !trigger.Valid() {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown trigger %q", req.Trigger))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.baseCtx(), 30*time.Second)
		defer cancel()
		d.TriggerAttempt(ctx, trigger)
	}()

	writeJSON(w, http.StatusAccepted, TriggerResponse{
		Accepted: true,
		Trigger:  string(trigger),
		Intent:   string(trigger.Intent()),
	})
}

func (d *Daemon) startAdmin() error {
	if d.cfg.Admin.Port <= 0 {
		return nil
	}

	d.admin = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", d.cfg.Admin.Port),
		Handler:           d.adminMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := d.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Admin endpoint stopped", logfields.Error(err))
		}
	}()

	slog.Info("Admin endpoint listening", logfields.Port(d.cfg.Admin.Port))
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode admin response", logfields.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
