package config

import (
	"os"
	"path/filepath"
)

const (
	// DefaultAuthority targets the common endpoint of the public cloud.
	DefaultAuthority = "https://login.microsoftonline.com/common"

	// DefaultRedirectURI is the loopback redirect registered for native
	// applications.
	DefaultRedirectURI = "http://localhost:53682/callback"

	// DefaultHTTPTimeoutSeconds bounds each provider round trip.
	DefaultHTTPTimeoutSeconds = 30
)

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() Config {
	return Config{
		Authority:          DefaultAuthority,
		RedirectURI:        DefaultRedirectURI,
		HTTPTimeoutSeconds: DefaultHTTPTimeoutSeconds,
		CachePath:          defaultCachePath(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultCachePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, userConfigDir, "cache.json")
}
