package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultRequestTimeout = 30 * time.Second

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request [key=value ...]",
		Short: "Send a message and wait for the reply",
		Long: `Send a message to the counterpart and wait for its reply.

Key=value arguments form the request payload and the reply prints as
JSON. With --data, the contents of a file (or stdin with "-") are sent
as raw bytes and the raw reply is written to stdout. The counterpart
must be reachable and answer within the timeout.`,
		RunE: runRequest,
	}

	cmd.Flags().String("data", "", `request with raw bytes from this file ("-" for stdin)`)
	cmd.Flags().Duration("timeout", defaultRequestTimeout, "how long to wait for the reply")

	return cmd
}

func runRequest(cmd *cobra.Command, args []string) error {
	dataPath, err := cmd.Flags().GetString("data")
	if err != nil {
		return err
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	if dataPath != "" && len(args) > 0 {
		return fmt.Errorf("--data and key=value arguments are mutually exclusive")
	}

	if dataPath == "" && len(args) == 0 {
		return fmt.Errorf("specify key=value arguments or --data")
	}

	logger := buildLogger()

	s, err := openSession(cmd.Context(), logger, attachSend)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if dataPath != "" {
		data, err := readDataArg(dataPath)
		if err != nil {
			return err
		}

		reply, err := s.RequestData(ctx, data)
		if err != nil {
			return err
		}

		if _, err := os.Stdout.Write(reply); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}

		return nil
	}

	payload, err := parsePayloadArgs(args)
	if err != nil {
		return err
	}

	reply, err := s.RequestMessage(ctx, payload)
	if err != nil {
		return err
	}

	return printPayload(reply)
}
