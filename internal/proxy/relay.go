package proxy

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/presenced/internal/logfields"
)

// corsHeaders is the fixed header set attached to every relayed response so
// mobile web clients on the local network can call through the relay.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	"Access-Control-Allow-Headers": "Authorization, Content-Type, Accept",
	"Access-Control-Max-Age":       "86400",
}

// HealthStatus is the local /health payload. It never leaves the process:
// discovery probing must not depend on the remote server being reachable.
type HealthStatus struct {
	IP           string `json:"ip"`
	Port         int    `json:"port"`
	IsRunning    bool   `json:"isRunning"`
	IsRegistered bool   `json:"isRegistered"`
	UserID       string `json:"userId,omitempty"`
	DeviceName   string `json:"deviceName"`
}

// Relay forwards every inbound request verbatim to the remote server:
// method, headers minus Host, body through; status, headers and body back
// unmodified apart from the CORS set. GET /health is answered locally.
type Relay struct {
	baseURL    string
	httpClient *http.Client
	health     func() HealthStatus
}

// NewRelay builds the relay handler. health supplies the local /health
// payload on demand.
func NewRelay(baseURL string, client *http.Client, health func() HealthStatus) *Relay {
	if client == nil {
		client = http.DefaultClient
	}
	return &Relay{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		health:     health,
	}
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for k, v := range corsHeaders {
		w.Header().Set(k, v)
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/health" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rl.health())
		return
	}

	rl.forward(w, r)
}

func (rl *Relay) forward(w http.ResponseWriter, r *http.Request) {
	target := rl.baseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	for key, values := range r.Header {
		if strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			upstream.Header.Add(key, v)
		}
	}

	resp, err := rl.httpClient.Do(upstream)
	if err != nil {
		slog.Warn("Relay request failed", logfields.Method(r.Method), logfields.Path(r.URL.Path), logfields.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("Relay response copy interrupted", logfields.Error(err))
	}
}
