package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/wearlink/internal/relay"
)

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay server",
		Long: `Run the websocket relay that pairs phone and watch endpoints.

Endpoints authenticate with a bearer token and find each other through a
shared pair identifier. Queued transfers and application context for an
offline counterpart are held on the relay until it reconnects.`,
		RunE: runRelay,
	}

	cmd.Flags().String("listen", "", "listen address (host:port), overrides relay.listen")
	cmd.Flags().Bool("echo", false, "answer request frames server-side (testing aid)")

	return cmd
}

func runRelay(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	listen := resolvedCfg.Relay.Listen
	if cmd.Flags().Changed("listen") {
		var err error
		if listen, err = cmd.Flags().GetString("listen"); err != nil {
			return err
		}
	}

	echo := resolvedCfg.Relay.Echo
	if cmd.Flags().Changed("echo") {
		var err error
		if echo, err = cmd.Flags().GetBool("echo"); err != nil {
			return err
		}
	}

	if resolvedCfg.Relay.Token == "" {
		logger.Warn("relay running without an auth token, any endpoint can join")
	}

	srv := relay.NewServer(relay.ServerConfig{
		Listen: listen,
		Token:  resolvedCfg.Relay.Token,
		Echo:   echo,
		Logger: logger,
	})

	ctx := shutdownContext(cmd.Context(), logger)

	statusf("Relay listening on %s\n", listen)

	return srv.Run(ctx)
}
