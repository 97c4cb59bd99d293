package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// TransferRow represents a single outgoing item from the transfers
// table.
type TransferRow struct {
	ID          int64
	Kind        string
	Name        string
	Size        int64
	Status      string
	ErrorMsg    string
	CreatedAt   time.Time
	CompletedAt time.Time // zero while the row is pending
}

// RecordOutgoing inserts a pending row for an outgoing item and returns
// its ledger ID.
func (s *Store) RecordOutgoing(ctx context.Context, kind, name string, size int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO transfers (kind, name, size, status, created_at)
		 VALUES (?, ?, ?, '`+statusPending+`', ?)`,
		kind, name, size, s.nowFunc().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("ledger: recording outgoing %s %q: %w", kind, name, err)
	}

	id, idErr := result.LastInsertId()
	if idErr != nil {
		return 0, fmt.Errorf("ledger: outgoing last insert ID: %w", idErr)
	}

	s.logger.Debug("ledger: outgoing recorded",
		slog.Int64("id", id),
		slog.String("kind", kind),
		slog.String("name", name),
	)

	return id, nil
}

// MarkSent transitions a transfer from pending to sent.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	now := s.nowFunc().UnixNano()

	result, err := s.db.ExecContext(ctx,
		`UPDATE transfers SET status = '`+statusSent+`', completed_at = ?
		 WHERE id = ? AND status = '`+statusPending+`'`, now, id)
	if err != nil {
		return fmt.Errorf("ledger: marking %d sent: %w", id, err)
	}

	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("ledger: mark sent %d rows affected: %w", id, rowsErr)
	}

	if rows == 0 {
		return fmt.Errorf("ledger: mark sent %d: transfer not %s", id, statusPending)
	}

	return nil
}

// MarkFailed transitions a transfer from pending to failed, recording
// the error.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	now := s.nowFunc().UnixNano()

	result, err := s.db.ExecContext(ctx,
		`UPDATE transfers SET status = '`+statusFailed+`', completed_at = ?, error_msg = ?
		 WHERE id = ? AND status = '`+statusPending+`'`, now, errMsg, id)
	if err != nil {
		return fmt.Errorf("ledger: marking %d failed: %w", id, err)
	}

	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("ledger: mark failed %d rows affected: %w", id, rowsErr)
	}

	if rows == 0 {
		return fmt.Errorf("ledger: mark failed %d: transfer not %s", id, statusPending)
	}

	return nil
}

// Pending returns all pending transfers ordered by id. The daemon logs
// these at startup so items in flight during the last shutdown are not
// silently forgotten.
func (s *Store) Pending(ctx context.Context) ([]TransferRow, error) {
	return s.queryTransfers(ctx,
		`WHERE status = '`+statusPending+`' ORDER BY id`, "load pending")
}

// Recent returns the most recent transfers, newest first, up to limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]TransferRow, error) {
	return s.queryTransfers(ctx,
		`ORDER BY id DESC LIMIT ?`, "load recent", limit)
}

// transferSelectCols is the column list shared by all transfer queries.
const transferSelectCols = `SELECT id, kind, name, size, status, error_msg,
	created_at, completed_at
 FROM transfers `

func (s *Store) queryTransfers(ctx context.Context, clause, desc string, args ...any) ([]TransferRow, error) {
	query := transferSelectCols + clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", desc, err)
	}
	defer rows.Close()

	var result []TransferRow

	for rows.Next() {
		r, scanErr := scanTransferRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		result = append(result, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating %s rows: %w", desc, err)
	}

	return result, nil
}

// scanTransferRow scans a single row from the transfers table, handling
// nullable columns with sql.Null* types.
func scanTransferRow(rows *sql.Rows) (*TransferRow, error) {
	var (
		r           TransferRow
		errMsg      sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
	)

	err := rows.Scan(&r.ID, &r.Kind, &r.Name, &r.Size, &r.Status,
		&errMsg, &createdAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: scanning transfer row: %w", err)
	}

	r.ErrorMsg = errMsg.String
	r.CreatedAt = time.Unix(0, createdAt)

	if completedAt.Valid {
		r.CompletedAt = time.Unix(0, completedAt.Int64)
	}

	return &r, nil
}
