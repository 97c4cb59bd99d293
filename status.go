package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/wearlink/internal/ledger"
	"github.com/tonimelisma/wearlink/pkg/link"
)

// recentTransferLimit caps the history table in status output.
const recentTransferLimit = 10

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, session, and transfer status",
		Long: `Show the daemon's run state, the live session state as seen from this
endpoint, ledger totals, and the most recent outgoing transfers.

The session section connects to the relay as a read-only probe, so a
running daemon keeps its connection and queued content stays queued.
When no relay is configured or the relay is unreachable, the rest
still prints.`,
		RunE: runStatus,
	}

	return cmd
}

// statusReport collects everything the status command displays.
type statusReport struct {
	daemonPID int
	session   *sessionStatusJSON
	counts    *ledger.Summary
	recent    []ledger.TransferRow
}

// sessionStatusJSON is the JSON output schema for the session section.
type sessionStatusJSON struct {
	State           string `json:"state"`
	Reachable       bool   `json:"reachable"`
	Paired          bool   `json:"paired"`
	Companion       bool   `json:"companion_installed"`
	ContentPending  bool   `json:"content_pending"`
	PendingUserInfo int    `json:"pending_userinfo"`
	PendingFiles    int    `json:"pending_files"`
}

// transfersJSONOutput is the JSON output schema for ledger totals.
type transfersJSONOutput struct {
	Pending  int `json:"pending"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Received int `json:"received"`
}

// transferRowJSONOutput is the JSON output schema for one history row.
type transferRowJSONOutput struct {
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	Size      int64  `json:"size"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// statusJSONOutput is the JSON output schema for the status command.
type statusJSONOutput struct {
	DaemonPID int                     `json:"daemon_pid,omitempty"`
	Session   *sessionStatusJSON      `json:"session,omitempty"`
	Transfers *transfersJSONOutput    `json:"transfers,omitempty"`
	Recent    []transferRowJSONOutput `json:"recent,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	report := &statusReport{}

	if resolvedCfg.Daemon.Pidfile != "" {
		report.daemonPID = daemonPID(resolvedCfg.Daemon.Pidfile)
	}

	if resolvedCfg.Daemon.Ledger != "" {
		if err := fillLedgerStatus(ctx, logger, report); err != nil {
			return err
		}
	}

	if resolvedCfg.Relay.URL != "" {
		fillSessionStatus(ctx, logger, report)
	}

	if flagJSON {
		return printStatusJSON(report)
	}

	printStatusText(report)

	return nil
}

// fillLedgerStatus loads totals and recent history. A ledger that does
// not exist yet is not an error; there is just nothing to report.
func fillLedgerStatus(ctx context.Context, logger *slog.Logger, report *statusReport) error {
	if _, err := os.Stat(resolvedCfg.Daemon.Ledger); err != nil {
		return nil
	}

	store, err := ledger.Open(resolvedCfg.Daemon.Ledger, logger)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()

	counts, err := store.Counts(ctx)
	if err != nil {
		return err
	}

	report.counts = &counts

	rows, err := store.Recent(ctx, recentTransferLimit)
	if err != nil {
		return err
	}

	report.recent = rows

	return nil
}

// fillSessionStatus connects to the relay and snapshots the session
// accessors. Best effort: an unreachable relay leaves the section empty.
func fillSessionStatus(ctx context.Context, logger *slog.Logger, report *statusReport) {
	s, err := openSession(ctx, logger, attachObserve)
	if err != nil {
		logger.Warn("session unavailable", slog.String("error", err.Error()))

		return
	}
	defer s.Close()

	sess, err := sessionStatus(s)
	if err != nil {
		logger.Warn("reading session state", slog.String("error", err.Error()))

		return
	}

	report.session = sess
}

func sessionStatus(s *link.Session) (*sessionStatusJSON, error) {
	reachable, err := s.Reachable()
	if err != nil {
		return nil, err
	}

	paired, err := s.Paired()
	if err != nil {
		return nil, err
	}

	companion, err := s.CompanionInstalled()
	if err != nil {
		return nil, err
	}

	contentPending, err := s.ContentPending()
	if err != nil {
		return nil, err
	}

	userInfoIDs, err := s.PendingUserInfoTransfers()
	if err != nil {
		return nil, err
	}

	fileIDs, err := s.PendingFileTransfers()
	if err != nil {
		return nil, err
	}

	return &sessionStatusJSON{
		State:           s.State().String(),
		Reachable:       reachable,
		Paired:          paired,
		Companion:       companion,
		ContentPending:  contentPending,
		PendingUserInfo: len(userInfoIDs),
		PendingFiles:    len(fileIDs),
	}, nil
}

func printStatusJSON(report *statusReport) error {
	out := statusJSONOutput{
		DaemonPID: report.daemonPID,
		Session:   report.session,
	}

	if report.counts != nil {
		out.Transfers = &transfersJSONOutput{
			Pending:  report.counts.Pending,
			Sent:     report.counts.Sent,
			Failed:   report.counts.Failed,
			Received: report.counts.Received,
		}
	}

	for _, row := range report.recent {
		out.Recent = append(out.Recent, transferRowJSONOutput{
			Kind:      row.Kind,
			Name:      row.Name,
			Size:      row.Size,
			Status:    row.Status,
			Error:     row.ErrorMsg,
			CreatedAt: row.CreatedAt.Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printStatusText(report *statusReport) {
	if report.daemonPID > 0 {
		fmt.Printf("Daemon:    running (pid %d)\n", report.daemonPID)
	} else {
		fmt.Printf("Daemon:    not running\n")
	}

	if report.session != nil {
		fmt.Printf("Session:   %s\n", report.session.State)
		fmt.Printf("Reachable: %s\n", yesNo(report.session.Reachable))
		fmt.Printf("Paired:    %s\n", yesNo(report.session.Paired))
		fmt.Printf("Companion: %s\n", yesNo(report.session.Companion))

		if report.session.ContentPending {
			fmt.Printf("Pending:   queued content waiting for delivery\n")
		}

		if report.session.PendingUserInfo > 0 || report.session.PendingFiles > 0 {
			fmt.Printf("In flight: %d user info, %d files\n",
				report.session.PendingUserInfo, report.session.PendingFiles)
		}
	} else {
		fmt.Printf("Session:   unavailable\n")
	}

	if report.counts != nil {
		fmt.Printf("Transfers: %d pending, %d sent, %d failed, %d received\n",
			report.counts.Pending, report.counts.Sent,
			report.counts.Failed, report.counts.Received)
	}

	if len(report.recent) > 0 {
		fmt.Println()

		rows := make([][]string, 0, len(report.recent))
		for _, row := range report.recent {
			rows = append(rows, []string{
				row.Kind,
				row.Name,
				formatSize(row.Size),
				row.Status,
				displayTime(row.CreatedAt),
			})
		}

		printTable(os.Stdout, []string{"KIND", "NAME", "SIZE", "STATUS", "WHEN"}, rows)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}

	return "no"
}
