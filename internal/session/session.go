// Package session persists and restores what a register needs to resume:
// the offline operator identity and, per company, the carts plus the product
// snapshot they reserve against.
//
// Snapshots replace live state wholesale on restore; nothing is merged. Save
// is called at lifecycle points (after a settled checkout, when a command
// finishes, on shutdown) rather than after every cart mutation, so a crash
// between two saves loses the mutations made in between.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/cashier/internal/cart"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/stock"
)

// SessionKey holds the OfflineSession. It is not scoped to a company.
const SessionKey = "cashierSession"

const uiStatePrefix = "cashierUiState:"

// UIStateKey is the key of a company's cart and product snapshot.
func UIStateKey(companyID string) string {
	return uiStatePrefix + companyID
}

// OfflineSession is the operator identity used when no live one is available.
type OfflineSession struct {
	CashierID    string `json:"cashierId" yaml:"cashierId"`
	CompanyID    string `json:"companyId" yaml:"companyId"`
	BranchID     string `json:"branchId" yaml:"branchId"`
	Currency     string `json:"currency" yaml:"currency"`
	BaseCurrency string `json:"baseCurrency" yaml:"baseCurrency"`
}

// UIState is the per-company snapshot.
type UIState struct {
	CartState cart.State      `json:"cartState"`
	Products  []stock.Product `json:"products"`
}

// KV is the durable keyed store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Hydrator reads and writes snapshots.
type Hydrator struct {
	kv KV
}

// New returns a Hydrator over kv.
func New(kv KV) *Hydrator {
	return &Hydrator{kv: kv}
}

// Restore loads companyID's snapshot into carts. Products reload the stock
// tracker; the cart state replaces the store only when it has at least one
// cart. restored reports whether a snapshot existed.
func (h *Hydrator) Restore(ctx context.Context, companyID string, carts *cart.Store) (restored bool, err error) {
	raw, found, err := h.kv.Get(ctx, UIStateKey(companyID))
	if err != nil {
		return false, failure.Persistence(failure.CodeStoreRead, "load cart snapshot", err)
	}
	if !found {
		return false, nil
	}

	var snap UIState
	if err := json.Unmarshal(raw, &snap); err != nil {
		return false, failure.Persistence(failure.CodeStoreRead, "decode cart snapshot", err)
	}

	if len(snap.Products) > 0 {
		carts.Tracker().Load(snap.Products)
	}
	if len(snap.CartState.Carts) > 0 {
		if err := carts.Dispatch(cart.Hydrate{State: snap.CartState}); err != nil {
			return false, fmt.Errorf("hydrate carts: %w", err)
		}
	}

	slog.Debug("session restored", "company", companyID, "carts", len(snap.CartState.Carts), "products", len(snap.Products))
	return true, nil
}

// Save writes the current carts and product availability for companyID.
func (h *Hydrator) Save(ctx context.Context, companyID string, carts *cart.Store) error {
	snap := UIState{
		CartState: carts.State(),
		Products:  carts.Tracker().Products(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cart snapshot: %w", err)
	}
	if err := h.kv.Set(ctx, UIStateKey(companyID), raw); err != nil {
		return failure.Persistence(failure.CodeStoreWrite, "save cart snapshot", err)
	}
	return nil
}

// LoadSession returns the persisted offline session, if any.
func (h *Hydrator) LoadSession(ctx context.Context) (OfflineSession, bool, error) {
	raw, found, err := h.kv.Get(ctx, SessionKey)
	if err != nil {
		return OfflineSession{}, false, failure.Persistence(failure.CodeStoreRead, "load session", err)
	}
	if !found {
		return OfflineSession{}, false, nil
	}
	var s OfflineSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return OfflineSession{}, false, failure.Persistence(failure.CodeStoreRead, "decode session", err)
	}
	return s, true, nil
}

// SaveSession persists s.
func (h *Hydrator) SaveSession(ctx context.Context, s OfflineSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := h.kv.Set(ctx, SessionKey, raw); err != nil {
		return failure.Persistence(failure.CodeStoreWrite, "save session", err)
	}
	return nil
}
