package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "wearlink.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
[relay]
url = "wss://relay.example.com/ws"
listen = "0.0.0.0:9090"
token = "s3cret"
token_url = "https://auth.example.com/token"
client_id = "wearlink-prod"
client_secret = "hunter2"
echo = true

[pair]
id = "toni-devices"
role = "phone"

[daemon]
outbox = "/srv/wearlink/outbox"
inbox = "/srv/wearlink/inbox"
ledger = "/srv/wearlink/ledger.db"
pidfile = "/run/wearlink.pid"

[log]
level = "debug"
`

	path := writeTestConfig(t, tomlContent)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://relay.example.com/ws", cfg.Relay.URL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Relay.Listen)
	assert.Equal(t, "s3cret", cfg.Relay.Token)
	assert.Equal(t, "https://auth.example.com/token", cfg.Relay.TokenURL)
	assert.Equal(t, "wearlink-prod", cfg.Relay.ClientID)
	assert.Equal(t, "hunter2", cfg.Relay.ClientSecret)
	assert.True(t, cfg.Relay.Echo)

	assert.Equal(t, "toni-devices", cfg.Pair.ID)
	assert.Equal(t, "phone", cfg.Pair.Role)

	assert.Equal(t, "/srv/wearlink/outbox", cfg.Daemon.Outbox)
	assert.Equal(t, "/srv/wearlink/inbox", cfg.Daemon.Inbox)
	assert.Equal(t, "/srv/wearlink/ledger.db", cfg.Daemon.Ledger)
	assert.Equal(t, "/run/wearlink.pid", cfg.Daemon.Pidfile)

	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_DefaultsPreservedForUnsetFields(t *testing.T) {
	path := writeTestConfig(t, `
[pair]
id = "p1"
role = "watch"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "watch", cfg.Pair.Role)
	assert.Equal(t, defaultListen, cfg.Relay.Listen)
	assert.Equal(t, defaultLogLevel, cfg.Log.Level)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeTestConfig(t, `
[relay]
urll = "ws://typo.example.com/ws"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config keys")
	assert.Contains(t, err.Error(), "relay.urll")
}

func TestLoad_InvalidTOMLSyntax(t *testing.T) {
	path := writeTestConfig(t, `[relay`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, defaultListen, cfg.Relay.Listen)
	assert.Equal(t, defaultLogLevel, cfg.Log.Level)
	assert.Empty(t, cfg.Relay.URL)
}

func TestResolve_PrecedenceChain(t *testing.T) {
	path := writeTestConfig(t, `
[relay]
url = "ws://from-file.example.com/ws"
token = "file-token"

[pair]
id = "file-pair"
`)

	t.Setenv(EnvConfig, path)
	t.Setenv(EnvRelayURL, "ws://from-env.example.com/ws")
	t.Setenv(EnvRole, "phone")

	cliURL := "ws://from-cli.example.com/ws"
	cfg, err := Resolve(ReadEnvOverrides(), CLIOverrides{RelayURL: &cliURL})
	require.NoError(t, err)

	// CLI beats env beats file; untouched fields keep the file values.
	assert.Equal(t, cliURL, cfg.Relay.URL)
	assert.Equal(t, "phone", cfg.Pair.Role)
	assert.Equal(t, "file-pair", cfg.Pair.ID)
	assert.Equal(t, "file-token", cfg.Relay.Token)
}

func TestResolve_RejectsInvalidOverride(t *testing.T) {
	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "absent.toml"))

	badRole := "tablet"
	_, err := Resolve(ReadEnvOverrides(), CLIOverrides{Role: &badRole})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pair.role")
}
