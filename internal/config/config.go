// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for wearlink. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Relay  RelayConfig  `toml:"relay"`
	Pair   PairConfig   `toml:"pair"`
	Daemon DaemonConfig `toml:"daemon"`
	Log    LogConfig    `toml:"log"`
}

// RelayConfig covers both sides of the relay: url plus auth settings for
// endpoint clients, listen/echo for the server.
type RelayConfig struct {
	URL          string `toml:"url"`
	Listen       string `toml:"listen"`
	Token        string `toml:"token"`
	TokenURL     string `toml:"token_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Echo         bool   `toml:"echo"`
}

// PairConfig identifies this endpoint within a device pair. Both endpoints
// of a pair share the same id and take opposite roles.
type PairConfig struct {
	ID   string `toml:"id"`
	Role string `toml:"role"`
}

// DaemonConfig holds the filesystem layout of the endpoint daemon.
type DaemonConfig struct {
	Outbox  string `toml:"outbox"`
	Inbox   string `toml:"inbox"`
	Ledger  string `toml:"ledger"`
	Pidfile string `toml:"pidfile"`
}

// LogConfig controls log output behavior.
type LogConfig struct {
	Level string `toml:"level"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	RelayURL   *string // --relay flag
	PairID     *string // --pair flag
	Role       *string // --role flag
	Token      *string // --token flag
}
