package api

import (
	"net/http"
	"sync"
)

// TokenManager holds the access/refresh token pair. Refreshing is
// serialized and deduplicated: a caller that raced another refresh observes
// the new token and skips its own, so one 401 storm spends the refresh token
// once.
type TokenManager struct {
	// refreshMu serializes Refresh end to end. It is separate from mu
	// because the exchange goes through the client, which reads
	// AccessToken under mu for the outgoing request.
	refreshMu sync.Mutex

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// NewTokenManager seeds the manager with the configured token pair. Either
// may be empty; the daemon then runs unauthenticated until re-login happens
// outside this process.
func NewTokenManager(accessToken, refreshToken string) *TokenManager {
	return &TokenManager{
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

// AccessToken returns the current access token.
func (tm *TokenManager) AccessToken() string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.accessToken
}

// Authenticated reports whether any access token is held. Token validity is
// the server's call; this only distinguishes "logged out" from "has a token".
func (tm *TokenManager) Authenticated() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.accessToken != ""
}

// Refresh exchanges the refresh token for a new pair via fn. staleToken is
// the access token the caller saw fail: if the current token already differs,
// another caller refreshed in the meantime and fn is not invoked again.
//
// The state lock is only held to snapshot and install tokens, never across
// fn: fn performs a network request, and the client reads AccessToken on
// every outgoing call.
func (tm *TokenManager) Refresh(staleToken string, fn func(refreshToken string) (RefreshResponse, error)) error {
	tm.refreshMu.Lock()
	defer tm.refreshMu.Unlock()

	tm.mu.Lock()
	if tm.accessToken != staleToken {
		tm.mu.Unlock()
		return nil // already refreshed by a concurrent caller
	}
	refreshToken := tm.refreshToken
	tm.mu.Unlock()

	if refreshToken == "" {
		return &StatusError{StatusCode: http.StatusUnauthorized, Code: "session_expired", Message: "no refresh token available"}
	}

	resp, err := fn(refreshToken)
	if err != nil {
		return err
	}

	tm.mu.Lock()
	tm.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		tm.refreshToken = resp.RefreshToken
	}
	tm.mu.Unlock()
	return nil
}
