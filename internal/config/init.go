package config

import (
	"fmt"
	"os"
)

const starterConfig = `# presenced configuration
data_dir: ./presenced-data

server:
  base_url: https://attendance.example.com
  # Tokens are expanded from the environment; keep them out of this file.
  access_token: ${PRESENCED_ACCESS_TOKEN}
  refresh_token: ${PRESENCED_REFRESH_TOKEN}
  timeout_seconds: 10

attendance:
  auto_check_in: true
  auto_checkout_on_shutdown: true
  notifications: true
  checkout_timeout_seconds: 30
  debounce_window_seconds: 30

proxy:
  enabled: true
  port: 8799
  heartbeat_seconds: 30
  reregister_seconds: 300
  retry:
    backoff: exponential
    initial_seconds: 1
    max_seconds: 4
    max_retries: 3

admin:
  port: 8798
  metrics_enabled: true

logging:
  level: info
  format: text
`

// Init writes a commented starter configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
