package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/wearlink/internal/ledger"
	"github.com/tonimelisma/wearlink/pkg/link"
)

const defaultTransferTimeout = 30 * time.Second

func newTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer [file]",
		Short: "Queue a file or user info for guaranteed delivery",
		Long: `Queue content for delivery to the counterpart. Queued transfers do not
need the counterpart to be reachable; the relay holds them until it
reconnects.

A file argument queues a file transfer, optionally annotated with --info
key=value metadata. Without a file argument, --info pairs are queued as
a user info dictionary on their own.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTransfer,
	}

	cmd.Flags().StringSlice("info", nil, "user info or file metadata key=value pairs")
	cmd.Flags().Duration("timeout", defaultTransferTimeout, "how long to wait for relay acceptance")

	return cmd
}

func runTransfer(cmd *cobra.Command, args []string) error {
	infoPairs, err := cmd.Flags().GetStringSlice("info")
	if err != nil {
		return err
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	if len(args) == 0 && len(infoPairs) == 0 {
		return fmt.Errorf("specify a file to transfer or --info key=value pairs")
	}

	info, err := parsePayloadArgs(infoPairs)
	if err != nil {
		return err
	}

	logger := buildLogger()

	s, err := openSession(cmd.Context(), logger, attachSend)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if len(args) == 0 {
		return transferUserInfo(ctx, s, logger, info)
	}

	return transferFile(ctx, s, logger, args[0], info)
}

func transferUserInfo(ctx context.Context, s *link.Session, logger *slog.Logger, info link.Payload) error {
	rec := newTransferRecord(ctx, logger, ledger.KindUserInfo, "", 0)

	err := s.TransferUserInfo(ctx, info)
	rec.finish(err)

	if err != nil {
		return err
	}

	statusf("Queued user info (%d fields)\n", len(info))

	return nil
}

func transferFile(ctx context.Context, s *link.Session, logger *slog.Logger, path string, metadata link.Payload) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	rec := newTransferRecord(ctx, logger, ledger.KindFile, filepath.Base(path), fi.Size())

	file := link.File{Path: path}
	if len(metadata) > 0 {
		file.Metadata = metadata
	}

	err = s.TransferFile(ctx, file)
	rec.finish(err)

	if err != nil {
		return err
	}

	statusf("Queued %s (%s)\n", filepath.Base(path), formatSize(fi.Size()))

	return nil
}

// transferRecord tracks one outgoing item in the ledger. When the ledger
// is unavailable it degrades to a no-op so the transfer itself still
// happens.
type transferRecord struct {
	store  *ledger.Store
	id     int64
	ctx    context.Context
	logger *slog.Logger
}

func newTransferRecord(ctx context.Context, logger *slog.Logger, kind, name string, size int64) *transferRecord {
	// Ledger writes survive the transfer timeout firing.
	rec := &transferRecord{ctx: context.WithoutCancel(ctx), logger: logger}

	if resolvedCfg.Daemon.Ledger == "" {
		return rec
	}

	store, err := ledger.Open(resolvedCfg.Daemon.Ledger, logger)
	if err != nil {
		logger.Warn("ledger unavailable", slog.String("error", err.Error()))

		return rec
	}

	id, err := store.RecordOutgoing(rec.ctx, kind, name, size)
	if err != nil {
		logger.Warn("recording transfer", slog.String("error", err.Error()))
		store.Close()

		return rec
	}

	rec.store = store
	rec.id = id

	return rec
}

// finish resolves the ledger row against the transfer outcome and closes
// the store.
func (r *transferRecord) finish(transferErr error) {
	if r.store == nil {
		return
	}

	var err error
	if transferErr != nil {
		err = r.store.MarkFailed(r.ctx, r.id, transferErr.Error())
	} else {
		err = r.store.MarkSent(r.ctx, r.id)
	}

	if err != nil {
		r.logger.Warn("updating transfer record", slog.String("error", err.Error()))
	}

	r.store.Close()
}
