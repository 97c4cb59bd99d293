package config

import "path/filepath"

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen so that two endpoints
// and a relay on one machine work without any config file.
const (
	defaultListen   = "127.0.0.1:8737"
	defaultLogLevel = "info"

	defaultOutboxDirName = "outbox"
	defaultInboxDirName  = "inbox"
	defaultLedgerName    = "ledger.db"
	defaultPidfileName   = "wearlink.pid"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Relay:  defaultRelayConfig(),
		Daemon: defaultDaemonConfig(),
		Log:    defaultLogConfig(),
	}
}

func defaultRelayConfig() RelayConfig {
	return RelayConfig{
		Listen: defaultListen,
	}
}

func defaultDaemonConfig() DaemonConfig {
	dataDir := DefaultDataDir()
	if dataDir == "" {
		return DaemonConfig{}
	}

	return DaemonConfig{
		Outbox:  filepath.Join(dataDir, defaultOutboxDirName),
		Inbox:   filepath.Join(dataDir, defaultInboxDirName),
		Ledger:  filepath.Join(dataDir, defaultLedgerName),
		Pidfile: filepath.Join(dataDir, defaultPidfileName),
	}
}

func defaultLogConfig() LogConfig {
	return LogConfig{
		Level: defaultLogLevel,
	}
}
