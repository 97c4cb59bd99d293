package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReceivedRow represents a single item received from the counterpart.
type ReceivedRow struct {
	ID         int64
	Kind       string
	Name       string
	Size       int64
	ReceivedAt time.Time
}

// RecordReceived inserts a row for an item received from the
// counterpart.
func (s *Store) RecordReceived(ctx context.Context, kind, name string, size int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO received (kind, name, size, received_at) VALUES (?, ?, ?, ?)`,
		kind, name, size, s.nowFunc().UnixNano())
	if err != nil {
		return fmt.Errorf("ledger: recording received %s %q: %w", kind, name, err)
	}

	s.logger.Debug("ledger: received recorded",
		slog.String("kind", kind),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	return nil
}

// RecentReceived returns the most recent received items, newest first,
// up to limit.
func (s *Store) RecentReceived(ctx context.Context, limit int) ([]ReceivedRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, size, received_at
		 FROM received ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading recent received: %w", err)
	}
	defer rows.Close()

	var result []ReceivedRow

	for rows.Next() {
		var (
			r          ReceivedRow
			receivedAt int64
		)

		if err := rows.Scan(&r.ID, &r.Kind, &r.Name, &r.Size, &receivedAt); err != nil {
			return nil, fmt.Errorf("ledger: scanning received row: %w", err)
		}

		r.ReceivedAt = time.Unix(0, receivedAt)
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating received rows: %w", err)
	}

	return result, nil
}
