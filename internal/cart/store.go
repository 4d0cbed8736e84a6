// Package cart owns the cashier's carts and their line items.
//
// State transitions live in Reduce, a pure function from (state, action) to
// (new state, stock deltas). Store serializes actions behind a mutex and
// mirrors every delta into the stock tracker inside the same critical
// section, so no two mutations interleave and no line is removed without its
// reservation being returned.
package cart

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/cashier/internal/ids"
	"github.com/roach88/cashier/internal/stock"
)

// Store is the single source of truth for cart state.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	state   State
	tracker *stock.Tracker
	gen     ids.Generator
}

// NewStore creates an empty store backed by tracker. A nil gen uses UUIDv7.
func NewStore(tracker *stock.Tracker, gen ids.Generator) *Store {
	if gen == nil {
		gen = ids.UUIDv7Generator{}
	}
	return &Store{
		state:   State{Discount: NoDiscount},
		tracker: tracker,
		gen:     gen,
	}
}

// Dispatch applies a. On error neither the cart state nor the tracker changes.
func (s *Store) Dispatch(a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchLocked(a)
}

func (s *Store) dispatchLocked(a Action) error {
	switch act := a.(type) {
	case CreateCart:
		if act.ID == "" {
			act.ID = s.gen.Generate()
		}
		a = act
	case Settle:
		// Only settling the active cart opens a replacement.
		settlesActive := act.CartID == "" || act.CartID == s.state.ActiveID
		if settlesActive && act.NewCartID == "" {
			act.NewCartID = s.gen.Generate()
		}
		a = act
	case AddItem:
		// Carts are created on first use.
		if _, ok := s.state.Active(); !ok {
			if err := s.dispatchLocked(CreateCart{}); err != nil {
				return err
			}
		}
	}

	next, deltas, err := Reduce(s.state, s.tracker, a)
	if err != nil {
		return err
	}
	if len(deltas) > 0 {
		if err := s.tracker.Apply(deltas...); err != nil {
			return fmt.Errorf("%s: mirror stock: %w", Name(a), err)
		}
	}
	s.state = next

	slog.Debug("cart action applied", "action", Name(a), "active_cart", next.ActiveID, "deltas", len(deltas))
	return nil
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Active returns a copy of the active cart and its totals.
func (s *Store) Active() (Cart, Totals, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.state.clone().Active()
	if !ok {
		return Cart{}, Totals{}, false
	}
	return c, ComputeTotals(c.Items, s.state.Discount), true
}

// Discount returns the current discount.
func (s *Store) Discount() Discount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Discount
}

// Tracker returns the stock tracker the store mirrors into.
func (s *Store) Tracker() *stock.Tracker {
	return s.tracker
}

// EnsureCart creates and activates a cart when none is active.
func (s *Store) EnsureCart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Active(); ok {
		return nil
	}
	return s.dispatchLocked(CreateCart{})
}
