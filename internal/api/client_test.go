package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/presenced/internal/netinfo"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tokens := NewTokenManager("access-1", "refresh-1")
	return NewClient(server.URL, tokens, "test-device", 5*time.Second), server
}

func TestGetStatusDecodesResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/attendance/status", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(StatusResponse{Status: StatusCheckedIn, AttendanceID: "att-1"})
	}))

	resp, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCheckedIn, resp.Status)
	require.Equal(t, "att-1", resp.AttendanceID)
}

func TestErrorBodyFlatShape(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"already_checked_in","message":"already checked in today"}`))
	}))

	_, err := client.CheckIn(context.Background(), CheckInRequest{Source: "login"})
	se, ok := AsStatusError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusConflict, se.StatusCode)
	require.Equal(t, "already_checked_in", se.Code)
}

func TestErrorBodyNestedShape(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"no_shift","message":"no shift scheduled"}}`))
	}))

	_, err := client.GetStatus(context.Background())
	se, ok := AsStatusError(err)
	require.True(t, ok)
	require.Equal(t, "no_shift", se.Code)
	require.Equal(t, "no shift scheduled", se.Message)
}

func TestCheckOutSendsBackdatedTime(t *testing.T) {
	eventTime := time.Date(2026, 2, 3, 17, 30, 0, 0, time.UTC)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CheckOutRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.CheckOutTime)
		require.True(t, req.CheckOutTime.Equal(eventTime))
		json.NewEncoder(w).Encode(CheckOutResponse{AttendanceID: "att-1", CheckOutTime: eventTime})
	}))

	resp, err := client.CheckOut(context.Background(), CheckOutRequest{
		Source:       "recovery",
		CheckOutTime: &eventTime,
	})
	require.NoError(t, err)
	require.True(t, resp.CheckOutTime.Equal(eventTime))
}

func TestAuthRetryRefreshesOnceAndRetries(t *testing.T) {
	var heartbeats, refreshes atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/proxy/heartbeat":
			if heartbeats.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			require.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
		case "/api/auth/refresh":
			refreshes.Add(1)
			var req RefreshRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "refresh-1", req.RefreshToken)
			json.NewEncoder(w).Encode(RefreshResponse{AccessToken: "access-2", RefreshToken: "refresh-2"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	err := client.DoWithAuthRetry(context.Background(), client.ProxyHeartbeat)
	require.NoError(t, err)
	require.Equal(t, int32(2), heartbeats.Load())
	require.Equal(t, int32(1), refreshes.Load())
	require.Equal(t, "access-2", client.Tokens().AccessToken())
}

func TestAuthRetryDoesNotLoopOnSecondUnauthorized(t *testing.T) {
	var heartbeats atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/proxy/heartbeat":
			heartbeats.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		case "/api/auth/refresh":
			json.NewEncoder(w).Encode(RefreshResponse{AccessToken: "access-2"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	err := client.DoWithAuthRetry(context.Background(), client.ProxyHeartbeat)
	require.True(t, IsUnauthorized(err))
	require.Equal(t, int32(2), heartbeats.Load())
}

func TestRefreshWithoutRefreshTokenFails(t *testing.T) {
	tokens := NewTokenManager("access-1", "")
	err := tokens.Refresh("access-1", func(string) (RefreshResponse, error) {
		t.Fatal("refresh fn must not be called without a refresh token")
		return RefreshResponse{}, nil
	})
	require.True(t, IsUnauthorized(err))
	se, ok := AsStatusError(err)
	require.True(t, ok)
	require.Equal(t, "session_expired", se.Code)
}

func TestRefreshSkippedWhenTokenAlreadyRotated(t *testing.T) {
	tokens := NewTokenManager("access-2", "refresh-1")
	err := tokens.Refresh("access-1", func(string) (RefreshResponse, error) {
		t.Fatal("refresh fn must not run when another caller already rotated")
		return RefreshResponse{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "access-2", tokens.AccessToken())
}

func TestAccessTokenReadableWhileRefreshInFlight(t *testing.T) {
	tokens := NewTokenManager("access-1", "refresh-1")

	read := make(chan string, 1)
	err := tokens.Refresh("access-1", func(refreshToken string) (RefreshResponse, error) {
		// The client reads the access token for every outgoing request,
		// including the refresh exchange itself.
		done := make(chan struct{})
		go func() {
			read <- tokens.AccessToken()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("AccessToken blocked during refresh")
		}
		return RefreshResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "access-1", <-read)
	require.Equal(t, "access-2", tokens.AccessToken())
}

func TestConcurrentRefreshSpendsRefreshTokenOnce(t *testing.T) {
	tokens := NewTokenManager("access-1", "refresh-1")

	var calls atomic.Int32
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tokens.Refresh("access-1", func(refreshToken string) (RefreshResponse, error) {
				calls.Add(1)
				return RefreshResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, "access-2", tokens.AccessToken())
}

func TestNetworkDescriptors(t *testing.T) {
	wifi, eth := NetworkDescriptors(netinfo.Wifi("office", "aa:bb"))
	require.NotNil(t, wifi)
	require.Nil(t, eth)
	require.Equal(t, "office", wifi.SSID)

	wifi, eth = NetworkDescriptors(netinfo.Ethernet("00:11:22", "eth0"))
	require.Nil(t, wifi)
	require.NotNil(t, eth)
	require.Equal(t, "00:11:22", eth.MAC)

	wifi, eth = NetworkDescriptors(netinfo.None())
	require.Nil(t, wifi)
	require.Nil(t, eth)
}
