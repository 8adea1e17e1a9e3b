package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Server     ServerConfig     `yaml:"server"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Network    NetworkConfig    `yaml:"network"`
	Admin      AdminConfig      `yaml:"admin"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig describes the remote attendance backend.
type ServerConfig struct {
	BaseURL        string `yaml:"base_url"`
	AccessToken    string `yaml:"access_token,omitempty"`  // usually ${PRESENCED_ACCESS_TOKEN}
	RefreshToken   string `yaml:"refresh_token,omitempty"` // usually ${PRESENCED_REFRESH_TOKEN}
	DeviceName     string `yaml:"device_name,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// Timeout returns the per-request timeout for remote calls.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// AttendanceConfig holds the attendance feature flags and windows.
type AttendanceConfig struct {
	AutoCheckIn             bool `yaml:"auto_check_in"`
	AutoCheckoutOnShutdown  bool `yaml:"auto_checkout_on_shutdown"`
	Notifications           bool `yaml:"notifications"`
	CheckoutTimeoutSeconds  int  `yaml:"checkout_timeout_seconds,omitempty"`
	DebounceWindowSeconds   int  `yaml:"debounce_window_seconds,omitempty"`
	AllowMissingFingerprint bool `yaml:"allow_missing_fingerprint,omitempty"`
}

// CheckoutTimeout returns the shutdown-path check-out deadline.
func (a AttendanceConfig) CheckoutTimeout() time.Duration {
	return time.Duration(a.CheckoutTimeoutSeconds) * time.Second
}

// DebounceWindow returns the per-trigger check-in debounce window.
func (a AttendanceConfig) DebounceWindow() time.Duration {
	return time.Duration(a.DebounceWindowSeconds) * time.Second
}

// ProxyConfig configures the local relay and its server-side registration.
type ProxyConfig struct {
	Enabled           bool        `yaml:"enabled"`
	Port              int         `yaml:"port,omitempty"`
	HeartbeatSeconds  int         `yaml:"heartbeat_seconds,omitempty"`
	ReregisterSeconds int         `yaml:"reregister_seconds,omitempty"`
	Retry             RetryConfig `yaml:"retry,omitempty"`
}

// HeartbeatInterval returns the registration keep-alive interval.
func (p ProxyConfig) HeartbeatInterval() time.Duration {
	return time.Duration(p.HeartbeatSeconds) * time.Second
}

// ReregisterInterval returns the address re-check interval.
func (p ProxyConfig) ReregisterInterval() time.Duration {
	return time.Duration(p.ReregisterSeconds) * time.Second
}

// RetryConfig holds raw retry/backoff settings; see internal/retry for the
// compiled policy.
type RetryConfig struct {
	Backoff        RetryBackoffMode `yaml:"backoff,omitempty"`
	InitialSeconds int              `yaml:"initial_seconds,omitempty"`
	MaxSeconds     int              `yaml:"max_seconds,omitempty"`
	MaxRetries     int              `yaml:"max_retries,omitempty"`
}

// RecoveryConfig controls the startup reconciliation pass.
type RecoveryConfig struct {
	WarmupSeconds int `yaml:"warmup_seconds,omitempty"`
}

// Warmup returns the delay before the recovery reconciler runs.
func (r RecoveryConfig) Warmup() time.Duration {
	return time.Duration(r.WarmupSeconds) * time.Second
}

// NetworkConfig controls network attachment polling.
type NetworkConfig struct {
	PollSeconds int `yaml:"poll_seconds,omitempty"`
}

// PollInterval returns the network poll interval.
func (n NetworkConfig) PollInterval() time.Duration {
	return time.Duration(n.PollSeconds) * time.Second
}

// AdminConfig configures the localhost admin/metrics endpoint.
type AdminConfig struct {
	Port           int  `yaml:"port,omitempty"`
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// AuditConfig configures the append-only attempt log.
type AuditConfig struct {
	Path string      `yaml:"path,omitempty"` // SQLite file, ":memory:" for tests
	NATS *NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig mirrors audit records to a NATS subject for fleet tooling.
// Disabled unless configured.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject,omitempty"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env/.env.local if present; existing process env wins.
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// Not an error: env files are optional in production deployments.
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Note: .env file not loaded: %v\n", err)
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content so tokens can live
	// outside the file.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
