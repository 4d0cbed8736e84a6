package store

import (
	"context"
	"fmt"
	"time"
)

// Operation is one queued offline operation.
type Operation struct {
	Seq         int64
	Type        string
	CompanyID   string
	SaleNumber  string
	Payload     []byte
	Fingerprint string
	Attempts    int
	LastError   string
	EnqueuedAt  time.Time
}

// AppendOperation inserts op at the tail of the outbox.
//
// Uses ON CONFLICT(company_id, sale_number) DO NOTHING. When the pair already
// exists, the stored operation is returned with inserted=false and the caller
// decides whether the repeat is benign (same fingerprint) or a conflict.
func (s *Store) AppendOperation(ctx context.Context, op Operation) (stored Operation, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Operation{}, false, fmt.Errorf("append operation: begin tx: %w", err)
	}
	defer tx.Rollback()

	enqueuedAt := op.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO outbox
		(company_id, sale_number, operation_type, payload, fingerprint, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, sale_number) DO NOTHING
	`,
		op.CompanyID,
		op.SaleNumber,
		op.Type,
		op.Payload,
		op.Fingerprint,
		enqueuedAt.UnixMilli(),
	)
	if err != nil {
		return Operation{}, false, fmt.Errorf("append operation: insert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Operation{}, false, fmt.Errorf("append operation: rows affected: %w", err)
	}
	inserted = affected > 0

	row := tx.QueryRowContext(ctx, `
		SELECT seq, operation_type, company_id, sale_number, payload, fingerprint, attempts, last_error, enqueued_at
		FROM outbox
		WHERE company_id = ? AND sale_number = ?
	`, op.CompanyID, op.SaleNumber)
	stored, err = scanOperation(row)
	if err != nil {
		return Operation{}, false, fmt.Errorf("append operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Operation{}, false, fmt.Errorf("append operation: commit: %w", err)
	}
	return stored, inserted, nil
}

// PendingOperations returns the queued operations of a company in enqueue
// order. An empty companyID returns every company's operations. limit <= 0
// means no limit.
//
// Returns an empty slice (not nil) when nothing is queued.
func (s *Store) PendingOperations(ctx context.Context, companyID string, limit int) ([]Operation, error) {
	query := `
		SELECT seq, operation_type, company_id, sale_number, payload, fingerprint, attempts, last_error, enqueued_at
		FROM outbox
		WHERE (? = '' OR company_id = ?)
		ORDER BY seq ASC
	`
	args := []any{companyID, companyID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending operations: %w", err)
	}
	defer rows.Close()

	ops := []Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending operations: %w", err)
	}
	return ops, nil
}

// CountPending returns how many operations a company has queued. An empty
// companyID counts every company.
func (s *Store) CountPending(ctx context.Context, companyID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox WHERE (? = '' OR company_id = ?)
	`, companyID, companyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending operations: %w", err)
	}
	return n, nil
}

// DeleteOperation removes a delivered operation. Deleting a missing seq is a
// no-op so a retried delete after a crash is harmless.
func (s *Store) DeleteOperation(ctx context.Context, seq int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("delete operation %d: %w", seq, err)
	}
	return nil
}

// RecordAttempt increments the attempt counter of seq and stores lastError.
func (s *Store) RecordAttempt(ctx context.Context, seq int64, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE seq = ?
	`, lastError, seq)
	if err != nil {
		return fmt.Errorf("record attempt %d: %w", seq, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (Operation, error) {
	var op Operation
	var enqueuedAt int64
	if err := row.Scan(
		&op.Seq,
		&op.Type,
		&op.CompanyID,
		&op.SaleNumber,
		&op.Payload,
		&op.Fingerprint,
		&op.Attempts,
		&op.LastError,
		&enqueuedAt,
	); err != nil {
		return Operation{}, fmt.Errorf("scan operation: %w", err)
	}
	op.EnqueuedAt = time.UnixMilli(enqueuedAt)
	return op, nil
}
