package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/wearlink/internal/ledger"
	"github.com/tonimelisma/wearlink/internal/spool"
	"github.com/tonimelisma/wearlink/pkg/link"
)

// maxReactivateBackoff caps the delay between reconnection attempts.
const maxReactivateBackoff = 30 * time.Second

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the endpoint daemon",
		Long: `Run the long-lived endpoint daemon.

The daemon keeps the session active across relay disconnects, records
inbound content in the ledger, stages received files into the inbox, and
transfers files dropped into the outbox directory. Sent outbox files
move to outbox/sent, failed ones to outbox/failed.`,
		RunE: runDaemon,
	}

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if resolvedCfg.Daemon.Outbox == "" || resolvedCfg.Daemon.Ledger == "" {
		return fmt.Errorf("daemon paths not configured (no home directory?), set [daemon] outbox and ledger")
	}

	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	cleanup, err := writePIDFile(resolvedCfg.Daemon.Pidfile)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := ledger.Open(resolvedCfg.Daemon.Ledger, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if leftover, pendErr := store.Pending(ctx); pendErr == nil && len(leftover) > 0 {
		logger.Warn("unresolved transfers from previous run", slog.Int("count", len(leftover)))
	}

	s, err := openSession(ctx, logger, attachConsume)
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info("daemon started",
		slog.String("role", resolvedCfg.Pair.Role),
		slog.String("pair", resolvedCfg.Pair.ID),
		slog.Int("pid", os.Getpid()),
	)

	d := &daemon{session: s, store: store, logger: logger}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.pumpMessages(gctx) })
	g.Go(func() error { return d.pumpData(gctx) })
	g.Go(func() error { return d.pumpUserInfo(gctx) })
	g.Go(func() error { return d.pumpFiles(gctx) })
	g.Go(func() error { return d.watchState(gctx) })

	watcher, err := spool.New(spool.Config{
		Dir:    resolvedCfg.Daemon.Outbox,
		Logger: logger,
	}, d.transferOutbox)
	if err != nil {
		return err
	}

	g.Go(func() error { return watcher.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("daemon stopped")

	return nil
}

// daemon wires the session's reception queues and the outbox watcher to
// the ledger.
type daemon struct {
	session *link.Session
	store   *ledger.Store
	logger  *slog.Logger
}

func (d *daemon) pumpMessages(ctx context.Context) error {
	for {
		msg, err := d.session.ReceiveMessage(ctx)
		if err != nil {
			return pumpDone(ctx, err)
		}

		d.logger.Info("message received", slog.Int("fields", len(msg)))
		d.record(ctx, ledger.KindMessage, "", 0)
	}
}

func (d *daemon) pumpData(ctx context.Context) error {
	for {
		data, err := d.session.ReceiveData(ctx)
		if err != nil {
			return pumpDone(ctx, err)
		}

		d.logger.Info("data received", slog.Int("bytes", len(data)))
		d.record(ctx, ledger.KindData, "", int64(len(data)))
	}
}

func (d *daemon) pumpUserInfo(ctx context.Context) error {
	for {
		info, err := d.session.ReceiveUserInfo(ctx)
		if err != nil {
			return pumpDone(ctx, err)
		}

		d.logger.Info("user info received", slog.Int("fields", len(info)))
		d.record(ctx, ledger.KindUserInfo, "", 0)
	}
}

func (d *daemon) pumpFiles(ctx context.Context) error {
	for {
		file, err := d.session.ReceiveFile(ctx)
		if err != nil {
			return pumpDone(ctx, err)
		}

		var size int64
		if fi, statErr := os.Stat(file.Path); statErr == nil {
			size = fi.Size()
		}

		d.logger.Info("file received",
			slog.String("path", file.Path),
			slog.String("size", formatSize(size)),
		)
		d.record(ctx, ledger.KindFile, filepath.Base(file.Path), size)
	}
}

// record writes one received row. Ledger hiccups are logged rather than
// returned so they never tear down reception.
func (d *daemon) record(ctx context.Context, kind, name string, size int64) {
	if err := d.store.RecordReceived(ctx, kind, name, size); err != nil {
		d.logger.Warn("recording received item",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

// pumpDone maps shutdown-path errors to nil so only real failures reach
// the errgroup.
func pumpDone(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, link.ErrClosed) {
		return nil
	}

	return err
}

// watchState logs session transitions and re-activates after the platform
// deactivates the session, which is how a relay disconnect surfaces.
func (d *daemon) watchState(ctx context.Context) error {
	ch, cancel := d.session.StateChanged()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
		}

		state := d.session.State()

		reachable := false
		if r, err := d.session.Reachable(); err == nil {
			reachable = r
		}

		d.logger.Info("session state changed",
			slog.String("state", state.String()),
			slog.Bool("reachable", reachable),
		)

		if state == link.Deactivated {
			if err := d.reactivate(ctx); err != nil {
				return err
			}
		}
	}
}

// reactivate dials the relay until activation succeeds, backing off
// between attempts.
func (d *daemon) reactivate(ctx context.Context) error {
	backoff := time.Second

	for {
		actCtx, cancel := context.WithTimeout(ctx, activateTimeout)
		_, err := d.session.Activate(actCtx)
		cancel()

		if err == nil {
			d.logger.Info("session reactivated")

			return nil
		}

		if ctx.Err() != nil || errors.Is(err, link.ErrClosed) {
			return nil
		}

		d.logger.Warn("reactivation failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", backoff),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		if backoff < maxReactivateBackoff {
			backoff *= 2
		}
	}
}

// transferOutbox is the spool transfer hook. A deactivated session defers
// the file instead of failing it, since reactivation is already underway.
func (d *daemon) transferOutbox(ctx context.Context, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	if d.session.State() != link.Activated {
		return fmt.Errorf("%w: session %s", spool.ErrRetry, d.session.State())
	}

	rowID, recErr := d.store.RecordOutgoing(ctx, ledger.KindFile, filepath.Base(path), fi.Size())
	if recErr != nil {
		d.logger.Warn("recording outgoing file", slog.String("error", recErr.Error()))
	}

	err = d.session.TransferFile(ctx, link.File{Path: path})

	if recErr == nil {
		// The row update survives shutdown cancellation.
		d.mark(context.WithoutCancel(ctx), rowID, err)
	}

	if errors.Is(err, link.ErrNotActive) {
		// Lost the session between the state check and the call.
		return fmt.Errorf("%w: %v", spool.ErrRetry, err)
	}

	return err
}

// mark resolves a ledger row against the transfer outcome.
func (d *daemon) mark(ctx context.Context, id int64, transferErr error) {
	var err error
	if transferErr != nil {
		err = d.store.MarkFailed(ctx, id, transferErr.Error())
	} else {
		err = d.store.MarkSent(ctx, id)
	}

	if err != nil {
		d.logger.Warn("updating ledger row",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
	}
}
