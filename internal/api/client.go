package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/presenced/internal/logfields"
)

// Client talks to the remote attendance server. Every method re-reads the
// access token from the TokenManager per request, so a refresh performed by
// one caller is immediately visible to all others.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenManager
	deviceName string
}

// NewClient builds a client for the given base URL. timeout bounds each
// individual HTTP request; callers layer their own context deadlines on top.
func NewClient(baseURL string, tokens *TokenManager, deviceName string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		deviceName: deviceName,
	}
}

// Tokens exposes the token manager for callers that need to inspect
// authentication state before issuing requests.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// errorBody covers the two error shapes the server emits: flat
// {code, message} and nested {error: {code, message}}.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do issues one JSON request. A non-2xx status becomes a *StatusError with
// whatever code/message the body carried.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			if eb.Error != nil {
				se.Code = eb.Error.Code
				se.Message = eb.Error.Message
			} else {
				se.Code = eb.Code
				se.Message = eb.Message
			}
		}
		if se.Message == "" {
			se.Message = string(bytes.TrimSpace(raw))
		}
		return se
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// DoWithAuthRetry runs fn; on a 401 it refreshes the token pair exactly once
// and retries fn once. A second 401 after the refresh is returned as-is so
// callers never loop on a revoked session.
func (c *Client) DoWithAuthRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	staleToken := c.tokens.AccessToken()
	err := fn(ctx)
	if !IsUnauthorized(err) {
		return err
	}

	slog.Debug("Request unauthorized, refreshing token", logfields.Error(err))
	if refreshErr := c.tokens.Refresh(staleToken, func(refreshToken string) (RefreshResponse, error) {
		return c.RefreshAuth(ctx, refreshToken)
	}); refreshErr != nil {
		return refreshErr
	}

	return fn(ctx)
}

// GetStatus fetches the server-side attendance status for today.
func (c *Client) GetStatus(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/attendance/status", nil, &resp)
	return resp, err
}

// CheckIn submits a check-in.
func (c *Client) CheckIn(ctx context.Context, req CheckInRequest) (CheckInResponse, error) {
	var resp CheckInResponse
	err := c.do(ctx, http.MethodPost, "/api/attendance/check-in", req, &resp)
	return resp, err
}

// CheckOut submits a check-out. A populated req.CheckOutTime backdates the
// event, which the server accepts for recovery submissions.
func (c *Client) CheckOut(ctx context.Context, req CheckOutRequest) (CheckOutResponse, error) {
	var resp CheckOutResponse
	err := c.do(ctx, http.MethodPost, "/api/attendance/check-out", req, &resp)
	return resp, err
}

// ValidateNetwork asks the server whether the current network attachment is
// approved for attendance.
func (c *Client) ValidateNetwork(ctx context.Context, req NetworkValidateRequest) (NetworkValidateResponse, error) {
	var resp NetworkValidateResponse
	err := c.do(ctx, http.MethodPost, "/api/attendance/network/validate", req, &resp)
	return resp, err
}

// RegisterProxy announces this machine's relay endpoint to the server.
func (c *Client) RegisterProxy(ctx context.Context, ipAddress string, port int) error {
	req := ProxyRegisterRequest{IPAddress: ipAddress, Port: port, DeviceName: c.deviceName}
	return c.do(ctx, http.MethodPost, "/api/proxy/register", req, nil)
}

// ProxyHeartbeat keeps the relay registration alive.
func (c *Client) ProxyHeartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/proxy/heartbeat", nil, nil)
}

// UnregisterProxy removes the relay registration. Best effort on shutdown.
func (c *Client) UnregisterProxy(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/proxy/unregister", nil, nil)
}

// RefreshAuth exchanges a refresh token for a new token pair. Issued without
// the Authorization header path since the access token is precisely what
// expired; the refresh token travels in the body.
func (c *Client) RefreshAuth(ctx context.Context, refreshToken string) (RefreshResponse, error) {
	var resp RefreshResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, &resp)
	return resp, err
}
