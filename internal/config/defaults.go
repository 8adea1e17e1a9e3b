package config

// Fixed constants carried over from the original deployment. They had no
// stated rationale for the exact values, so they stay configurable defaults
// rather than hard-coded semantics.
const (
	DefaultDebounceWindowSeconds  = 30
	DefaultCheckoutTimeoutSeconds = 30
	DefaultHeartbeatSeconds       = 30
	DefaultReregisterSeconds      = 300
	DefaultNetworkPollSeconds     = 15
	DefaultRecoveryWarmupSeconds  = 5
	DefaultRequestTimeoutSeconds  = 10

	DefaultProxyPort = 8799
	DefaultAdminPort = 8798

	DefaultDataDir   = "./presenced-data"
	DefaultAuditFile = "audit.db"

	DefaultRetryInitialSeconds = 1
	DefaultRetryMaxSeconds     = 4
	DefaultRetryMaxRetries     = 3
)

// ApplyDefaults fills zero-valued fields in place. Called by Load; exposed so
// tests can build configs without a file.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Server.TimeoutSeconds <= 0 {
		c.Server.TimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if c.Server.DeviceName == "" {
		if host, err := hostname(); err == nil {
			c.Server.DeviceName = host
		}
	}
	if c.Attendance.CheckoutTimeoutSeconds <= 0 {
		c.Attendance.CheckoutTimeoutSeconds = DefaultCheckoutTimeoutSeconds
	}
	if c.Attendance.DebounceWindowSeconds <= 0 {
		c.Attendance.DebounceWindowSeconds = DefaultDebounceWindowSeconds
	}
	if c.Proxy.Port <= 0 {
		c.Proxy.Port = DefaultProxyPort
	}
	if c.Proxy.HeartbeatSeconds <= 0 {
		c.Proxy.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if c.Proxy.ReregisterSeconds <= 0 {
		c.Proxy.ReregisterSeconds = DefaultReregisterSeconds
	}
	if c.Proxy.Retry.Backoff == "" {
		c.Proxy.Retry.Backoff = RetryBackoffExponential
	}
	if c.Proxy.Retry.InitialSeconds <= 0 {
		c.Proxy.Retry.InitialSeconds = DefaultRetryInitialSeconds
	}
	if c.Proxy.Retry.MaxSeconds <= 0 {
		c.Proxy.Retry.MaxSeconds = DefaultRetryMaxSeconds
	}
	if c.Proxy.Retry.MaxRetries == 0 {
		c.Proxy.Retry.MaxRetries = DefaultRetryMaxRetries
	}
	if c.Recovery.WarmupSeconds <= 0 {
		c.Recovery.WarmupSeconds = DefaultRecoveryWarmupSeconds
	}
	if c.Network.PollSeconds <= 0 {
		c.Network.PollSeconds = DefaultNetworkPollSeconds
	}
	if c.Admin.Port <= 0 {
		c.Admin.Port = DefaultAdminPort
	}
	if c.Audit.Path == "" {
		c.Audit.Path = DefaultAuditFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(LogLevelInfo)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = string(LogFormatText)
	}
}
