// Package outbox queues sales that could not be submitted and replays them
// against the back office later.
//
// Each company has its own log in the shared SQLite store. Entries are
// identified by (company, sale number), so re-enqueuing the same sale is a
// no-op and replaying an entry the server already holds is answered as a
// duplicate rather than charged twice.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cashier/internal/canonical"
	"github.com/roach88/cashier/internal/checkout"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/store"
)

// Queue appends sales to the durable outbox.
//
// Thread-safety: Queue is safe for concurrent use; the store serializes
// writers.
type Queue struct {
	store *store.Store
	now   func() time.Time
}

// NewQueue returns a queue over st. A nil now uses time.Now.
func NewQueue(st *store.Store, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{store: st, now: now}
}

// Enqueue stores payload for later submission on behalf of companyID.
//
// The payload must carry a sale number. A second enqueue of the same sale
// number with identical content is ignored; with different content it fails
// with CONFLICTING_OPERATION and the stored entry is kept.
func (q *Queue) Enqueue(ctx context.Context, companyID string, payload checkout.SalePayload) error {
	if companyID == "" {
		return failure.Validation(failure.CodeMissingSession, "enqueue: company is required")
	}
	if payload.SaleNumber == "" {
		return errors.New("enqueue: payload has no sale number")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: encode payload: %w", payload.SaleNumber, err)
	}
	fingerprint, err := canonical.Fingerprint(payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", payload.SaleNumber, err)
	}

	stored, inserted, err := q.store.AppendOperation(ctx, store.Operation{
		Type:        checkout.OperationSale,
		CompanyID:   companyID,
		SaleNumber:  payload.SaleNumber,
		Payload:     data,
		Fingerprint: fingerprint,
		EnqueuedAt:  q.now(),
	})
	if err != nil {
		return failure.Persistence(failure.CodeStoreWrite, "enqueue "+payload.SaleNumber, err)
	}

	if !inserted {
		if stored.Fingerprint != fingerprint {
			return failure.Validation(failure.CodeConflictingOperation,
				"sale %s is already queued for %s with different content", payload.SaleNumber, companyID)
		}
		slog.Debug("sale already queued", "company", companyID, "sale_number", payload.SaleNumber, "seq", stored.Seq)
		return nil
	}

	slog.Debug("sale queued", "company", companyID, "sale_number", payload.SaleNumber, "seq", stored.Seq)
	return nil
}

// Pending lists the queued operations of companyID in replay order. An empty
// companyID lists every company.
func (q *Queue) Pending(ctx context.Context, companyID string) ([]store.Operation, error) {
	ops, err := q.store.PendingOperations(ctx, companyID, 0)
	if err != nil {
		return nil, failure.Persistence(failure.CodeStoreRead, "list pending operations", err)
	}
	return ops, nil
}

// Len counts the queued operations of companyID.
func (q *Queue) Len(ctx context.Context, companyID string) (int, error) {
	n, err := q.store.CountPending(ctx, companyID)
	if err != nil {
		return 0, failure.Persistence(failure.CodeStoreRead, "count pending operations", err)
	}
	return n, nil
}

// Decode returns the sale stored in op.
func Decode(op store.Operation) (checkout.SalePayload, error) {
	var p checkout.SalePayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return checkout.SalePayload{}, fmt.Errorf("decode operation %d (%s): %w", op.Seq, op.SaleNumber, err)
	}
	return p, nil
}
