package cart

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/cashier/internal/stock"
)

// Item is one line of a cart: a product sold in one selling unit.
type Item struct {
	ProductID     string              `json:"productId"`
	ProductName   string              `json:"productName"`
	UnitID        string              `json:"selectedUnitId"`
	Qty           int64               `json:"selectedQty"`
	UnitPrice     decimal.Decimal     `json:"unitPrice"`
	SellingUnits  []stock.SellingUnit `json:"sellingUnits"`
	OriginalStock int64               `json:"originalStockQuantity"`
}

// Subtotal is Qty × UnitPrice.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Qty))
}

// Cart is one pending sale.
type Cart struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

func (c *Cart) find(productID, unitID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID && it.UnitID == unitID {
			return i
		}
	}
	return -1
}

// DiscountType selects how Discount.Value is read.
type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

// Discount applies to the active cart's totals.
type Discount struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// NoDiscount is the zero discount.
var NoDiscount = Discount{Type: DiscountFixed, Value: decimal.Zero}

// State is everything the cart store owns.
type State struct {
	Carts    []Cart   `json:"carts"`
	ActiveID string   `json:"activeCartId"`
	Discount Discount `json:"discount"`
}

// Active returns the active cart.
func (s State) Active() (Cart, bool) {
	if i := s.activeIndex(); i >= 0 {
		return s.Carts[i], true
	}
	return Cart{}, false
}

func (s State) activeIndex() int {
	return s.index(s.ActiveID)
}

func (s State) index(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range s.Carts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// clone deep-copies the state so reducers never alias the caller's slices.
func (s State) clone() State {
	out := State{ActiveID: s.ActiveID, Discount: s.Discount}
	if s.Carts == nil {
		return out
	}
	out.Carts = make([]Cart, len(s.Carts))
	for i, c := range s.Carts {
		cc := Cart{ID: c.ID, Name: c.Name, Items: make([]Item, len(c.Items))}
		for j, it := range c.Items {
			units := make([]stock.SellingUnit, len(it.SellingUnits))
			copy(units, it.SellingUnits)
			it.SellingUnits = units
			cc.Items[j] = it
		}
		out.Carts[i] = cc
	}
	return out
}

// Totals are derived from a cart and the discount; they are never stored.
type Totals struct {
	Before   decimal.Decimal `json:"totalBefore"`
	Discount decimal.Decimal `json:"discount"`
	After    decimal.Decimal `json:"totalAfter"`
}

var hundred = decimal.NewFromInt(100)

// ComputeTotals returns before/discount/after for items under d.
// A percentage is clamped to [0,100], a fixed amount to >= 0, and the total
// after discount never goes below zero.
func ComputeTotals(items []Item, d Discount) Totals {
	before := decimal.Zero
	for _, it := range items {
		before = before.Add(it.Subtotal())
	}

	var discount decimal.Decimal
	switch d.Type {
	case DiscountPercentage:
		pct := clampDecimal(d.Value, decimal.Zero, hundred)
		discount = pct.Div(hundred).Mul(before)
	default:
		discount = decimal.Max(d.Value, decimal.Zero)
	}

	after := decimal.Max(before.Sub(discount), decimal.Zero)
	return Totals{Before: before, Discount: discount, After: after}
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
