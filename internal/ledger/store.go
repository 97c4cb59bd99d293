// Package ledger persists a durable record of link traffic for the
// daemon: outgoing sends and transfers with their outcomes, and items
// received from the counterpart. Backed by SQLite in WAL mode with a
// sole-writer connection.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Status constants for the transfers.status column.
const (
	statusPending = "pending"
	statusSent    = "sent"
	statusFailed  = "failed"
)

// Kind constants for ledger rows.
const (
	KindMessage  = "message"
	KindData     = "data"
	KindUserInfo = "userinfo"
	KindFile     = "file"
)

// Summary aggregates row counts for the status command.
type Summary struct {
	Pending  int
	Sent     int
	Failed   int
	Received int
}

// Store is the sole writer to the ledger database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens the SQLite database at dbPath, runs migrations, and
// returns a ready-to-use store. The database uses WAL mode with
// synchronous=FULL for crash-safe durability.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ledger: closing database: %w", err)
	}

	return nil
}

// Counts returns aggregate row counts across both tables.
func (s *Store) Counts(ctx context.Context) (Summary, error) {
	var sum Summary

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM transfers GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger: counting transfers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return Summary{}, fmt.Errorf("ledger: scanning transfer counts: %w", err)
		}

		switch status {
		case statusPending:
			sum.Pending = n
		case statusSent:
			sum.Sent = n
		case statusFailed:
			sum.Failed = n
		}
	}

	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("ledger: iterating transfer counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM received`).Scan(&sum.Received)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger: counting received: %w", err)
	}

	return sum, nil
}
