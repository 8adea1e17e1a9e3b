package config

import (
	"net/url"
	"os"

	ferrors "git.home.luguber.info/inful/presenced/internal/foundation/errors"
)

// Validate checks the configuration for impossible values. Defaults are
// assumed to have been applied already.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return ferrors.ConfigError("server.base_url is required").Build()
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ferrors.ConfigError("server.base_url must be an http(s) URL").
			WithContext("base_url", c.Server.BaseURL).
			Build()
	}
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return ferrors.ConfigError("proxy.port out of range").
			WithContext("port", c.Proxy.Port).
			Build()
	}
	if c.Admin.Port < 1 || c.Admin.Port > 65535 {
		return ferrors.ConfigError("admin.port out of range").
			WithContext("port", c.Admin.Port).
			Build()
	}
	if c.Proxy.Enabled && c.Proxy.Port == c.Admin.Port {
		return ferrors.ConfigError("proxy.port and admin.port must differ").Build()
	}
	if _, err := retryBackoffNormalizer.NormalizeWithError(string(c.Proxy.Retry.Backoff)); err != nil {
		return ferrors.ConfigError("proxy.retry.backoff is invalid").WithCause(err).Build()
	}
	if c.Audit.NATS != nil && c.Audit.NATS.Enabled && c.Audit.NATS.URL == "" {
		return ferrors.ConfigError("audit.nats.url is required when audit.nats.enabled").Build()
	}
	return nil
}

func hostname() (string, error) {
	return os.Hostname()
}
