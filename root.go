package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/wearlink/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagRelayURL   string
	flagPairID     string
	flagRole       string
	flagToken      string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// activateTimeout bounds session activation so a dead relay cannot hang
// one-shot commands indefinitely.
const activateTimeout = 30 * time.Second

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wearlink",
		Short:   "Phone/watch pair messaging over a relay",
		Long:    "Messaging, transfers, and shared state between a paired phone and watch endpoint.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE resolves configuration before every command. A
		// missing config file is not an error; defaults plus env and flag
		// overrides are enough to run against a relay.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagRelayURL, "relay", "", "relay websocket URL (ws:// or wss://)")
	cmd.PersistentFlags().StringVar(&flagPairID, "pair", "", "pair identifier shared by both endpoints")
	cmd.PersistentFlags().StringVar(&flagRole, "role", "", "endpoint role: phone or watch")
	cmd.PersistentFlags().StringVar(&flagToken, "token", "", "relay bearer token")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable info logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	// Register subcommands.
	cmd.AddCommand(newRelayCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newRequestCmd())
	cmd.AddCommand(newTransferCmd())
	cmd.AddCommand(newRecvCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newContextCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg for use by
// subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Pointer overrides only when the user explicitly set the flag, so an
	// empty flag value never clobbers a configured one.
	if cmd.Flags().Changed("relay") {
		cli.RelayURL = &flagRelayURL
	}

	if cmd.Flags().Changed("pair") {
		cli.PairID = &flagPairID
	}

	if cmd.Flags().Changed("role") {
		cli.Role = &flagRole
	}

	if cmd.Flags().Changed("token") {
		cli.Token = &flagToken
	}

	env := config.ReadEnvOverrides()

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --debug,
// --verbose, and --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	// Config-based log level (lower priority than CLI flags).
	if resolvedCfg != nil {
		if parsed, err := config.ParseLogLevel(resolvedCfg.Log.Level); err == nil {
			level = parsed
		}
	}

	// CLI flags override config (highest priority).
	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
