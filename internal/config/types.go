package config

// Config is the top-level configuration structure for vouch.
type Config struct {
	// Authority is the identity provider URL tokens are acquired against,
	// e.g. https://login.microsoftonline.com/common.
	Authority string `yaml:"authority,omitempty" env:"VOUCH_AUTHORITY"`

	// ClientID is the application (client) id registered with the provider.
	ClientID string `yaml:"clientId,omitempty" env:"VOUCH_CLIENT_ID"`

	// RedirectURI receives the authorization response in interactive flows.
	RedirectURI string `yaml:"redirectUri,omitempty" env:"VOUCH_REDIRECT_URI"`

	// Scopes requested by default when a command names none.
	Scopes []string `yaml:"scopes,omitempty" env:"VOUCH_SCOPES" envSeparator:" "`

	// CachePath is the token cache file. Empty disables persistence.
	CachePath string `yaml:"cachePath,omitempty" env:"VOUCH_CACHE_PATH"`

	// HTTPTimeoutSeconds bounds each discovery and token-endpoint call.
	HTTPTimeoutSeconds int `yaml:"httpTimeoutSeconds,omitempty" env:"VOUCH_HTTP_TIMEOUT_SECONDS"`

	Broker  BrokerConfig  `yaml:"broker,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// BrokerConfig controls OS-broker delegation.
type BrokerConfig struct {
	// Enabled routes interactive flows through the OS broker when one is
	// invokable.
	Enabled bool `yaml:"enabled,omitempty" env:"VOUCH_BROKER_ENABLED"`
}

// LoggingConfig controls diagnostic output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" env:"VOUCH_LOG_LEVEL"`

	// EnablePii permits personally identifying values in debug logs.
	EnablePii bool `yaml:"enablePii,omitempty" env:"VOUCH_LOG_PII"`
}
