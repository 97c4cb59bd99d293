package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, so a typo in the file surfaces
// immediately instead of silently falling back to a default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// checkUnknownKeys rejects config keys that did not decode into any field.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, len(undecoded))
	for i, key := range undecoded {
		keys[i] = key.String()
	}

	return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The precedence order ensures CLI flags always win, matching user
// expectations for one-off overrides without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg, env)
	applyCLIOverrides(cfg, cli)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, env EnvOverrides) {
	if env.RelayURL != "" {
		cfg.Relay.URL = env.RelayURL
	}

	if env.PairID != "" {
		cfg.Pair.ID = env.PairID
	}

	if env.Role != "" {
		cfg.Pair.Role = env.Role
	}

	if env.Token != "" {
		cfg.Relay.Token = env.Token
	}
}

// applyCLIOverrides copies flag values over the config. Pointer fields:
// nil means the flag was not passed.
func applyCLIOverrides(cfg *Config, cli CLIOverrides) {
	if cli.RelayURL != nil {
		cfg.Relay.URL = *cli.RelayURL
	}

	if cli.PairID != nil {
		cfg.Pair.ID = *cli.PairID
	}

	if cli.Role != nil {
		cfg.Pair.Role = *cli.Role
	}

	if cli.Token != nil {
		cfg.Relay.Token = *cli.Token
	}
}
