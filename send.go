package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [key=value ...]",
		Short: "Send a message to the counterpart",
		Long: `Send an interactive message to the counterpart endpoint.

Key=value arguments form the message payload. With --data, the contents
of a file (or stdin with "-") are sent as raw bytes instead. Interactive
sends need the counterpart to be reachable; use "transfer" for queued
delivery that survives the counterpart being offline.`,
		RunE: runSend,
	}

	cmd.Flags().String("data", "", `send raw bytes from this file instead of a message ("-" for stdin)`)

	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	dataPath, err := cmd.Flags().GetString("data")
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

	if dataPath != "" {
		data, err := readDataArg(dataPath)
		if err != nil {
			return err
		}

		if err := s.SendData(data); err != nil {
			return err
		}

		statusf("Sent %s\n", formatSize(int64(len(data))))

		return nil
	}

	payload, err := parsePayloadArgs(args)
	if err != nil {
		return err
	}

	if err := s.SendMessage(payload); err != nil {
		return err
	}

	statusf("Sent message (%d fields)\n", len(payload))

	return nil
}

// readDataArg loads raw bytes from a file path or stdin ("-").
func readDataArg(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}

		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return data, nil
}
