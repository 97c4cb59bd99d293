package main

import (
	"github.com/spf13/cobra"
)

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context [key=value ...]",
		Short: "Show or publish application context",
		Long: `Show the latest application context received from the counterpart, or
publish a new outgoing context when key=value arguments are given.

Context is latest-wins state, not a queue: the counterpart only ever
sees the newest published dictionary, even after being offline.`,
		RunE: runContext,
	}

	return cmd
}

func runContext(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	// Reading is a pure state probe; publishing needs a live endpoint.
	mode := attachSend
	if len(args) == 0 {
		mode = attachObserve
	}

	s, err := openSession(cmd.Context(), logger, mode)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) == 0 {
		appCtx, err := s.ReceivedApplicationContext()
		if err != nil {
			return err
		}

		if len(appCtx) == 0 {
			statusf("No application context received\n")

			return nil
		}

		return printPayload(appCtx)
	}

	payload, err := parsePayloadArgs(args)
	if err != nil {
		return err
	}

	if err := s.UpdateApplicationContext(payload); err != nil {
		return err
	}

	statusf("Application context updated (%d fields)\n", len(payload))

	return nil
}
