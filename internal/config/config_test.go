package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://attendance.example.com
attendance:
  auto_check_in: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, DefaultDebounceWindowSeconds, cfg.Attendance.DebounceWindowSeconds)
	require.Equal(t, DefaultCheckoutTimeoutSeconds, cfg.Attendance.CheckoutTimeoutSeconds)
	require.Equal(t, DefaultHeartbeatSeconds, cfg.Proxy.HeartbeatSeconds)
	require.Equal(t, DefaultReregisterSeconds, cfg.Proxy.ReregisterSeconds)
	require.Equal(t, RetryBackoffExponential, cfg.Proxy.Retry.Backoff)
	require.Equal(t, DefaultRetryMaxRetries, cfg.Proxy.Retry.MaxRetries)
	require.NotEmpty(t, cfg.Server.DeviceName)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PRESENCED_TEST_TOKEN", "tok-123")
	path := writeConfig(t, `
server:
  base_url: https://attendance.example.com
  access_token: ${PRESENCED_TEST_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "tok-123", cfg.Server.AccessToken)
}

func TestValidateRejectsMissingBaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsPortCollision(t *testing.T) {
	cfg := &Config{Server: ServerConfig{BaseURL: "https://attendance.example.com"}}
	cfg.ApplyDefaults()
	cfg.Proxy.Enabled = true
	cfg.Proxy.Port = cfg.Admin.Port
	require.Error(t, cfg.Validate())
}

func TestInitRefusesOverwriteWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "base_url")
}

func TestNormalizers(t *testing.T) {
	require.Equal(t, LogLevelDebug, NormalizeLogLevel(" DEBUG "))
	require.Equal(t, LogLevelInfo, NormalizeLogLevel("bogus"))
	require.Equal(t, LogFormatJSON, NormalizeLogFormat("json"))
	require.Equal(t, RetryBackoffLinear, NormalizeRetryBackoffMode("Linear"))
	require.Equal(t, RetryBackoffExponential, NormalizeRetryBackoffMode(""))
}
