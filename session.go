package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tonimelisma/wearlink/internal/relay"
	"github.com/tonimelisma/wearlink/pkg/link"
)

// sessionMode selects how a command attaches to the relay.
type sessionMode int

const (
	// attachSend registers as the live endpoint but leaves queued
	// transfers on the relay for whoever consumes them.
	attachSend sessionMode = iota

	// attachConsume additionally drains queued transfers into this
	// session's reception queues.
	attachConsume

	// attachObserve reads the pair state without registering, so a
	// running daemon keeps its connection.
	attachObserve
)

// openSession connects to the configured relay and activates the link.
// Callers own the returned session and must Close it.
func openSession(ctx context.Context, logger *slog.Logger, mode sessionMode) (*link.Session, error) {
	if resolvedCfg.Relay.URL == "" {
		return nil, fmt.Errorf("relay not configured (set relay.url or pass --relay)")
	}

	if resolvedCfg.Pair.ID == "" {
		return nil, fmt.Errorf("pair not configured (set pair.id or pass --pair)")
	}

	if resolvedCfg.Pair.Role == "" {
		return nil, fmt.Errorf("role not configured (set pair.role or pass --role phone|watch)")
	}

	provider, err := relay.NewProvider(relay.ClientConfig{
		URL:          resolvedCfg.Relay.URL,
		Pair:         resolvedCfg.Pair.ID,
		Role:         resolvedCfg.Pair.Role,
		Token:        resolvedCfg.Relay.Token,
		TokenURL:     resolvedCfg.Relay.TokenURL,
		ClientID:     resolvedCfg.Relay.ClientID,
		ClientSecret: resolvedCfg.Relay.ClientSecret,
		Observe:      mode == attachObserve,
		Drain:        mode == attachConsume,
		InboxDir:     resolvedCfg.Daemon.Inbox,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	s := link.New(provider, link.WithLogger(logger))

	actCtx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()

	if _, err := s.Activate(actCtx); err != nil {
		s.Close()

		return nil, fmt.Errorf("activating session: %w", err)
	}

	return s, nil
}

// parsePayloadArgs converts key=value arguments into a payload. Values
// stay strings; callers that need typed fields send JSON via --data.
func parsePayloadArgs(args []string) (link.Payload, error) {
	payload := make(link.Payload, len(args))

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", arg)
		}

		payload[key] = value
	}

	return payload, nil
}

// printPayload writes a payload to stdout as JSON, indented on terminals.
func printPayload(payload link.Payload) error {
	enc := json.NewEncoder(os.Stdout)
	if stdoutIsTTY() {
		enc.SetIndent("", "  ")
	}

	return enc.Encode(payload)
}
