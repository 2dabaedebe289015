// Package config loads and validates studioflow configuration. Settings come
// from a TOML file with environment variable and CLI flag overrides layered
// on top: defaults -> config file -> env -> flags.
package config

import (
	"fmt"
	"strings"
)

// Config is the on-disk TOML configuration.
type Config struct {
	// ClientID is the OAuth2 client used for the sign-in flow. A default
	// public client is built in; deployments may override it.
	ClientID string `toml:"client_id"`

	// ClientSecret is optional — installed-app clients for Google's OAuth
	// endpoint carry a non-confidential secret.
	ClientSecret string `toml:"client_secret"`

	// OverseerEmail, when set, is granted reader access to every uploaded
	// file after the transfer completes.
	OverseerEmail string `toml:"overseer_email"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// DataDir overrides the default data directory (credential file,
	// upload sessions, ledger database).
	DataDir string `toml:"data_dir"`
}

// Built-in OAuth2 installed-app client for studioflow. The "secret" is not
// confidential for installed apps; PKCE protects the code exchange.
const (
	defaultClientID     = "407408718192-s1f9b2p0fmkq9tlv7hc2jp0d43qhl2oj.apps.googleusercontent.com"
	defaultClientSecret = "d-FL95Q19q7MQmFpd7hHD0Ty"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		ClientID:     defaultClientID,
		ClientSecret: defaultClientSecret,
		LogLevel:     "info",
	}
}

// validLogLevels enumerates accepted log_level values.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks a Config for invalid values. Called after every load so a
// typo fails fast instead of silently misbehaving later.
func Validate(cfg *Config) error {
	if cfg.LogLevel != "" && !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.OverseerEmail != "" && !strings.Contains(cfg.OverseerEmail, "@") {
		return fmt.Errorf("invalid overseer_email %q", cfg.OverseerEmail)
	}

	if cfg.ClientID == "" {
		return fmt.Errorf("client_id must not be empty")
	}

	return nil
}
