// Package stock mirrors product availability locally and applies optimistic
// reservations as carts change.
//
// The tracker never owns cart data. It only holds a snapshot of the product
// list and an availability count per (product, selling unit) that the cart
// store decrements on consume and increments on restore. Nothing here waits
// for the server, and nothing reconciles the counts against server stock after
// a sale fails remotely; the snapshot is refreshed wholesale by Load.
package stock

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/roach88/cashier/internal/failure"
)

// SellingUnit is one denomination a product is sold in (unit, packet, carton).
type SellingUnit struct {
	ID    string          `json:"id" yaml:"id"`
	Name  string          `json:"name" yaml:"name"`
	Price decimal.Decimal `json:"price" yaml:"price"`
	Stock int64           `json:"stock" yaml:"stock"`
}

// Product is a catalog entry with its selling units.
type Product struct {
	ID    string        `json:"id" yaml:"id"`
	Name  string        `json:"name" yaml:"name"`
	Units []SellingUnit `json:"units" yaml:"units"`
}

// Unit looks up a selling unit by ID.
func (p Product) Unit(id string) (SellingUnit, bool) {
	for _, u := range p.Units {
		if u.ID == id {
			return u, true
		}
	}
	return SellingUnit{}, false
}

// Key identifies an availability slot.
type Key struct {
	ProductID string
	UnitID    string
}

// Mode says which way a Delta moves availability.
type Mode string

const (
	ModeConsume Mode = "consume"
	ModeRestore Mode = "restore"
)

// Delta is one optimistic stock adjustment.
type Delta struct {
	ProductID string `json:"productId"`
	UnitID    string `json:"sellingUnit"`
	Quantity  int64  `json:"quantity"`
	Mode      Mode   `json:"mode"`
}

// Consume builds a consume delta.
func Consume(productID, unitID string, qty int64) Delta {
	return Delta{ProductID: productID, UnitID: unitID, Quantity: qty, Mode: ModeConsume}
}

// Restore builds a restore delta.
func Restore(productID, unitID string, qty int64) Delta {
	return Delta{ProductID: productID, UnitID: unitID, Quantity: qty, Mode: ModeRestore}
}

// Tracker is the local availability mirror.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	products  map[string]Product
	available map[Key]int64
}

// NewTracker creates a tracker seeded from products.
func NewTracker(products []Product) *Tracker {
	t := &Tracker{}
	t.Load(products)
	return t
}

// Load replaces the product snapshot and resets availability to each unit's
// Stock.
func (t *Tracker) Load(products []Product) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.products = make(map[string]Product, len(products))
	t.available = make(map[Key]int64)
	for _, p := range products {
		units := make([]SellingUnit, len(p.Units))
		copy(units, p.Units)
		p.Units = units
		t.products[p.ID] = p
		for _, u := range p.Units {
			t.available[Key{ProductID: p.ID, UnitID: u.ID}] = u.Stock
		}
	}
}

// Product returns the cached product.
func (t *Tracker) Product(id string) (Product, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.products[id]
	return p, ok
}

// Available returns the unreserved quantity for a product unit.
// Unknown slots report 0.
func (t *Tracker) Available(productID, unitID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.available[Key{ProductID: productID, UnitID: unitID}]
}

// Apply applies deltas in order. Either every delta is applied or none is.
func (t *Tracker) Apply(deltas ...Delta) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[Key]int64, len(deltas))
	for _, d := range deltas {
		if d.Quantity < 0 {
			return fmt.Errorf("apply %s %s/%s: negative quantity %d", d.Mode, d.ProductID, d.UnitID, d.Quantity)
		}
		k := Key{ProductID: d.ProductID, UnitID: d.UnitID}
		cur, seen := next[k]
		if !seen {
			var ok bool
			cur, ok = t.available[k]
			if !ok {
				return failure.Validation(failure.CodeUnknownUnit, "no stock slot for product %s unit %s", d.ProductID, d.UnitID)
			}
		}
		switch d.Mode {
		case ModeConsume:
			if d.Quantity > cur {
				return failure.Validation(failure.CodeInsufficientStock,
					"product %s unit %s: requested %d, available %d", d.ProductID, d.UnitID, d.Quantity, cur)
			}
			cur -= d.Quantity
		case ModeRestore:
			cur += d.Quantity
		default:
			return fmt.Errorf("apply %s/%s: unknown mode %q", d.ProductID, d.UnitID, d.Mode)
		}
		next[k] = cur
	}

	for k, v := range next {
		t.available[k] = v
	}
	return nil
}

// Products returns the snapshot with each unit's Stock set to the current
// availability, sorted by product ID. This is what gets persisted.
func (t *Tracker) Products() []Product {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Product, 0, len(t.products))
	for _, p := range t.products {
		units := make([]SellingUnit, len(p.Units))
		for i, u := range p.Units {
			u.Stock = t.available[Key{ProductID: p.ID, UnitID: u.ID}]
			units[i] = u
		}
		p.Units = units
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Total returns the sum of all available quantities. Used by tests to check
// that restore-then-remove leaves reservations unchanged.
func (t *Tracker) Total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sum int64
	for _, v := range t.available {
		sum += v
	}
	return sum
}
