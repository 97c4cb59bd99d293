package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/wearlink/pkg/link"
)

func newRecvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Wait for content from the counterpart",
		Long: `Wait for the next item from the counterpart and print it.

--kind selects the reception queue: message (default), data, userinfo,
or file. Messages and user info print as JSON, data prints raw bytes,
and files print the staged inbox path. Not meant to run alongside the
daemon, which consumes the same queues.`,
		RunE: runRecv,
	}

	cmd.Flags().String("kind", "message", "what to receive: message, data, userinfo, or file")
	cmd.Flags().Int("count", 1, "how many items to wait for")
	cmd.Flags().Duration("timeout", 0, "give up after this long (0 waits forever)")

	return cmd
}

func runRecv(cmd *cobra.Command, _ []string) error {
	kind, err := cmd.Flags().GetString("kind")
	if err != nil {
		return err
	}

	count, err := cmd.Flags().GetInt("count")
	if err != nil {
		return err
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	if count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	logger := buildLogger()

	s, err := openSession(cmd.Context(), logger, attachConsume)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)

		defer cancel()
	}

	for i := 0; i < count; i++ {
		if err := recvOne(ctx, s, kind); err != nil {
			return err
		}
	}

	return nil
}

// recvFileJSONOutput is the JSON output schema for a received file.
type recvFileJSONOutput struct {
	Path     string       `json:"path"`
	Metadata link.Payload `json:"metadata,omitempty"`
}

func recvOne(ctx context.Context, s *link.Session, kind string) error {
	switch kind {
	case "message":
		msg, err := s.ReceiveMessage(ctx)
		if err != nil {
			return err
		}

		return printPayload(msg)

	case "data":
		data, err := s.ReceiveData(ctx)
		if err != nil {
			return err
		}

		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("writing data: %w", err)
		}

		return nil

	case "userinfo":
		info, err := s.ReceiveUserInfo(ctx)
		if err != nil {
			return err
		}

		return printPayload(info)

	case "file":
		file, err := s.ReceiveFile(ctx)
		if err != nil {
			return err
		}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			return enc.Encode(recvFileJSONOutput{Path: file.Path, Metadata: file.Metadata})
		}

		fmt.Println(file.Path)

		return nil

	default:
		return fmt.Errorf("unknown kind %q (message, data, userinfo, or file)", kind)
	}
}
