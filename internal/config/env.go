package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "WEARLINK_CONFIG"
	EnvRelayURL = "WEARLINK_RELAY_URL"
	EnvPair     = "WEARLINK_PAIR"
	EnvRole     = "WEARLINK_ROLE"
	EnvToken    = "WEARLINK_TOKEN"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // WEARLINK_CONFIG: override config file path
	RelayURL   string // WEARLINK_RELAY_URL: relay websocket URL
	PairID     string // WEARLINK_PAIR: pair identifier
	Role       string // WEARLINK_ROLE: endpoint role
	Token      string // WEARLINK_TOKEN: bearer token
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		RelayURL:   os.Getenv(EnvRelayURL),
		PairID:     os.Getenv(EnvPair),
		Role:       os.Getenv(EnvRole),
		Token:      os.Getenv(EnvToken),
	}
}
